package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
)

// StoredObject describes an uploaded file
type StoredObject struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
}

// BucketStore keeps uploaded files on the local filesystem, one directory per bucket,
// and hands out public URLs under publicBase.
type BucketStore struct {
	root       string
	publicBase string
	buckets    map[string]struct{}
	maxSize    int64
	now        func() time.Time
}

// NewBucketStore creates the bucket directories under root
func NewBucketStore(root, publicBase string, maxSize int64, buckets ...string) (*BucketStore, error) {
	s := &BucketStore{
		root:       root,
		publicBase: strings.TrimRight(publicBase, "/"),
		buckets:    make(map[string]struct{}, len(buckets)),
		maxSize:    maxSize,
		now:        time.Now,
	}
	for _, b := range buckets {
		if err := os.MkdirAll(filepath.Join(root, b), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", b, err)
		}
		s.buckets[b] = struct{}{}
	}
	return s, nil
}

// Root is the directory served for public reads
func (s *BucketStore) Root() string {
	return s.root
}

// Put writes r to <bucket>/<prefix>/<unix-millis>-<ksuid>-<name> and returns its public URL.
// Objects are never overwritten.
func (s *BucketStore) Put(ctx context.Context, bucket, prefix, name string, r io.Reader) (*StoredObject, error) {
	if _, ok := s.buckets[bucket]; !ok {
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := path.Join(prefix, fmt.Sprintf("%d-%s-%s", s.now().UnixMilli(), ksuid.New().String(), sanitizeObjectName(name)))
	full := filepath.Join(s.root, bucket, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object directory: %w", err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) // #nosec G304 - key is generated
	if err != nil {
		return nil, fmt.Errorf("failed to create object: %w", err)
	}

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(f, src)
	closeErr := f.Close()
	if err == nil && s.maxSize > 0 && n > s.maxSize {
		err = fmt.Errorf("object exceeds %d bytes", s.maxSize)
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(full)
		return nil, fmt.Errorf("failed to write object: %w", err)
	}

	return &StoredObject{
		Bucket: bucket,
		Key:    key,
		URL:    fmt.Sprintf("%s/%s/%s", s.publicBase, bucket, key),
		Size:   n,
	}, nil
}

// Delete removes an object; a missing object is not an error
func (s *BucketStore) Delete(bucket, key string) error {
	if _, ok := s.buckets[bucket]; !ok {
		return fmt.Errorf("unknown bucket %q", bucket)
	}
	clean := path.Clean("/" + key)
	err := os.Remove(filepath.Join(s.root, bucket, filepath.FromSlash(clean)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// sanitizeObjectName keeps the base name and replaces anything outside [A-Za-z0-9._-]
func sanitizeObjectName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}
