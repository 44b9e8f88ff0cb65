package service

import (
	"context"
	"io"

	"github.com/carbon-marketplace/internal/catalog"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/types"
)

// ImageUpload is an optional file sent with an admin property form
type ImageUpload struct {
	Filename string
	Body     io.Reader
}

// AdminPropertyService handles property create, manage and edit
type AdminPropertyService struct {
	props   PropertyRepository
	objects ObjectStore
	locks   Locker
	bucket  string
}

// NewAdminPropertyService creates a new admin property service
func NewAdminPropertyService(props PropertyRepository, objects ObjectStore, locks Locker, bucket string) *AdminPropertyService {
	return &AdminPropertyService{props: props, objects: objects, locks: locks, bucket: bucket}
}

// List returns every property newest first, filtered for the manage view
func (s *AdminPropertyService) List(ctx context.Context, f catalog.AdminFilter) ([]models.Property, error) {
	rows, err := s.props.List(ctx, true)
	if err != nil {
		return nil, err
	}
	return catalog.ApplyAdmin(rows, f), nil
}

// Get returns the full record for the edit form
func (s *AdminPropertyService) Get(ctx context.Context, id string) (*models.Property, error) {
	p, err := s.props.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, types.CodePropertyNotFound, "property not found")
	}
	return p, nil
}

// Create validates the draft, uploads the image and inserts the property.
// total_shares is set to the available shares. The draft is cleared on success.
func (s *AdminPropertyService) Create(ctx context.Context, admin *models.User, draft *PropertyDraft, image *ImageUpload) (*models.Property, error) {
	p, err := draft.BuildNew()
	if err != nil {
		return nil, err
	}

	release, err := acquire(ctx, s.locks, "property:create", admin.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"adminId": admin.ID,
		"name":    p.Name,
	})

	uploadedKey, err := s.uploadImage(ctx, p, image)
	if err != nil {
		return nil, err
	}

	if err := s.props.Create(ctx, p); err != nil {
		s.discardImage(logger, uploadedKey)
		return nil, err
	}

	draft.Clear()
	logger.WithField("propertyId", p.ID).Info("property created")
	return p, nil
}

// Update replaces every field of the property, including the nested objects.
// The detail cache is not touched; the catalog reads the store directly.
func (s *AdminPropertyService) Update(ctx context.Context, admin *models.User, id string, in *models.Property, image *ImageUpload) (*models.Property, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	replacement := *in
	if replacement.TotalShares == 0 {
		replacement.TotalShares = existing.TotalShares
	}
	if replacement.Image == "" {
		replacement.Image = existing.Image
	}

	draft := LoadPropertyDraft(existing)
	draft.Apply(&replacement)
	p, err := draft.Build()
	if err != nil {
		return nil, err
	}

	release, err := acquire(ctx, s.locks, "property:update:"+id, admin.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"adminId":    admin.ID,
		"propertyId": p.ID,
	})

	uploadedKey, err := s.uploadImage(ctx, p, image)
	if err != nil {
		return nil, err
	}

	if err := s.props.Update(ctx, p); err != nil {
		s.discardImage(logger, uploadedKey)
		return nil, notFoundAs(err, types.CodePropertyNotFound, "property not found")
	}

	logger.Info("property updated")
	return p, nil
}

// discardImage removes an image uploaded for a write that did not happen
func (s *AdminPropertyService) discardImage(logger *logging.Logger, key string) {
	if key == "" {
		return
	}
	logger.WithField("key", key).Warn("property write failed, removing uploaded image")
	if err := s.objects.Delete(s.bucket, key); err != nil {
		logger.WithError(err).WithField("key", key).Warn("orphan property image left in bucket")
	}
}

// uploadImage stores image, if any, and points p at it. It returns the object key.
func (s *AdminPropertyService) uploadImage(ctx context.Context, p *models.Property, image *ImageUpload) (string, error) {
	if image == nil || image.Body == nil {
		return "", nil
	}
	name := image.Filename
	if name == "" {
		name = p.Name
	}
	obj, err := s.objects.Put(ctx, s.bucket, "properties", name, image.Body)
	if err != nil {
		return "", err
	}
	p.Image = obj.URL
	return obj.Key, nil
}
