package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/carbon-marketplace/internal/events"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/metrics"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/storage"
	"github.com/carbon-marketplace/internal/types"
)

var phonePattern = regexp.MustCompile(`^[0-9]{10}$`)

// KYCForm is the identity submission entered by the user
type KYCForm struct {
	FullName       string `json:"fullName"`
	PhoneNumber    string `json:"phoneNumber"`
	Username       string `json:"username"`
	DocumentType   string `json:"documentType"`
	DocumentNumber string `json:"documentNumber"`
	DocumentImage  string `json:"documentImage"`
}

// Validate checks the form before any remote call
func (f *KYCForm) Validate() error {
	f.FullName = strings.TrimSpace(f.FullName)
	f.PhoneNumber = strings.TrimSpace(f.PhoneNumber)
	f.Username = strings.TrimSpace(f.Username)
	f.DocumentNumber = strings.TrimSpace(f.DocumentNumber)
	f.DocumentImage = strings.TrimSpace(f.DocumentImage)

	switch {
	case len([]rune(f.FullName)) < 3:
		return invalidInput("fullName", "full name must be at least 3 characters")
	case !phonePattern.MatchString(f.PhoneNumber):
		return invalidInput("phoneNumber", "phone number must be exactly 10 digits")
	case len([]rune(f.Username)) < 3:
		return invalidInput("username", "username must be at least 3 characters")
	case !types.ValidDocumentType(f.DocumentType):
		return invalidInput("documentType", fmt.Sprintf("document type must be one of %s", strings.Join(types.DocumentTypes, ", ")))
	case len([]rune(f.DocumentNumber)) < 4:
		return invalidInput("documentNumber", "document number must be at least 4 characters")
	}

	u, err := url.ParseRequestURI(f.DocumentImage)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidInput("documentImage", "a document image must be uploaded")
	}
	return nil
}

// KYCService resolves and records identity verification
type KYCService struct {
	users       UserRepository
	kyc         KYCRepository
	cache       StatusCache
	objects     ObjectStore
	publisher   events.Publisher
	bucket      string
	autoApprove bool
}

// NewKYCService creates a new KYC service
func NewKYCService(
	users UserRepository,
	kyc KYCRepository,
	cache StatusCache,
	objects ObjectStore,
	publisher events.Publisher,
	bucket string,
	autoApprove bool,
) *KYCService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &KYCService{
		users:       users,
		kyc:         kyc,
		cache:       cache,
		objects:     objects,
		publisher:   publisher,
		bucket:      bucket,
		autoApprove: autoApprove,
	}
}

// Status resolves the verification state of user. A nil user, or any lookup
// failure, yields KYCUnknown; only definite answers are cached.
func (s *KYCService) Status(ctx context.Context, user *models.User) types.KYCStatus {
	if user == nil {
		return types.KYCUnknown
	}
	if user.KYCApproved() {
		return types.KYCVerified
	}

	logger := logging.FromContext(ctx).WithField("userId", user.ID)
	key := s.cache.KYCStatusKey(user.ID)

	var cached types.KYCStatus
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		logger.WithError(err).Warn("kyc status cache read failed")
	} else if hit && cached != types.KYCVerified && cached != types.KYCUnknown {
		return cached
	}

	exists, err := s.kyc.Exists(ctx, user.ID)
	if err != nil {
		logger.WithError(err).Warn("kyc status lookup failed")
		return types.KYCUnknown
	}

	status := types.KYCNotSubmitted
	if exists {
		status = types.KYCPending
	}
	if err := s.cache.Set(ctx, key, status); err != nil {
		logger.WithError(err).Warn("kyc status cache write failed")
	}
	return status
}

// GetSubmission returns the user's submission, or nil when none exists
func (s *KYCService) GetSubmission(ctx context.Context, user *models.User) (*models.KYCSubmission, error) {
	if user == nil {
		return nil, loginRequired()
	}
	sub, err := s.kyc.GetByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// UploadDocument stores a document image and returns its public location
func (s *KYCService) UploadDocument(ctx context.Context, user *models.User, filename string, r io.Reader) (*storage.StoredObject, error) {
	if user == nil {
		return nil, loginRequired()
	}
	if strings.TrimSpace(filename) == "" {
		return nil, invalidInput("file", "a document image is required")
	}
	obj, err := s.objects.Put(ctx, s.bucket, "kyc", filename, r)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId": user.ID,
		"key":    obj.Key,
	}).Info("kyc document uploaded")
	return obj, nil
}

// Submit records the user's single identity submission
func (s *KYCService) Submit(ctx context.Context, user *models.User, form KYCForm) (*models.KYCSubmission, error) {
	if user == nil {
		return nil, loginRequired()
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}

	already := types.NewServiceError(types.CodeKYCAlreadySubmitted, "KYC details have already been submitted")

	exists, err := s.kyc.Exists(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, already
	}

	sub := &models.KYCSubmission{
		UserID:         user.ID,
		FullName:       form.FullName,
		PhoneNumber:    form.PhoneNumber,
		Username:       form.Username,
		DocumentType:   form.DocumentType,
		DocumentNumber: form.DocumentNumber,
		DocumentImage:  form.DocumentImage,
	}
	if err := s.kyc.Submit(ctx, sub, s.autoApprove); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, already
		}
		return nil, err
	}

	s.Invalidate(ctx, user.ID)
	metrics.KYCSubmissionsTotal.Inc()
	s.publisher.Publish(ctx, events.KYCSubmitted, map[string]interface{}{
		"userId":       user.ID,
		"documentType": sub.DocumentType,
		"autoApproved": s.autoApprove,
	})
	logging.FromContext(ctx).WithField("userId", user.ID).Info("kyc submitted")
	return sub, nil
}

// Invalidate drops the cached status of the given users
func (s *KYCService) Invalidate(ctx context.Context, userIDs ...string) {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, s.cache.KYCStatusKey(id))
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("kyc status cache invalidation failed")
	}
}
