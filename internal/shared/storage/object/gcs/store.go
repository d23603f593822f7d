package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/vriksha-code/verisure/internal/shared/storage/object"
)

// Store implements ObjectStore on a Google Cloud Storage bucket.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// New opens a client with application default credentials.
func New(ctx context.Context, bucket, prefix string) (*Store, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &Store{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Save writes the object only if the key does not already exist.
func (s *Store) Save(ctx context.Context, ownerID, fileName, contentType string, r io.Reader) (object.Object, error) {
	key, err := object.NewKey(ownerID, fileName)
	if err != nil {
		return object.Object{}, fmt.Errorf("sanitize file name: %w", err)
	}
	ct, body, err := object.Sniff(contentType, r)
	if err != nil {
		return object.Object{}, err
	}

	name := s.objectName(key)
	w := s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = ct
	n, err := io.Copy(w, body)
	if err != nil {
		_ = w.Close()
		return object.Object{}, fmt.Errorf("gcs write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return object.Object{}, fmt.Errorf("gcs write %s: object already exists", name)
		}
		return object.Object{}, fmt.Errorf("gcs finalize %s: %w", name, err)
	}
	return object.Object{Key: key, Size: n, ContentType: ct}, nil
}

// Open streams a stored object.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := object.ValidateKey(key); err != nil {
		return nil, err
	}
	rc, err := s.bucket.Object(s.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, object.ErrNotFound
		}
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	return rc, nil
}

// Delete removes a stored object.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := object.ValidateKey(key); err != nil {
		return err
	}
	if err := s.bucket.Object(s.objectName(key)).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return object.ErrNotFound
		}
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}

// URL returns the public storage.googleapis.com address.
func (s *Store) URL(key string) string {
	return object.JoinURL("https://storage.googleapis.com/"+s.name, s.objectName(key))
}

func (s *Store) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + strings.TrimLeft(key, "/")
}

var _ object.ObjectStore = (*Store)(nil)
