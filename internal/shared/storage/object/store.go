package object

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned by Open and Delete for a missing key.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey rejects empty or traversing storage keys.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Object describes a stored blob.
type Object struct {
	Key         string
	Size        int64
	ContentType string
}

// ObjectStore defines the contract for saving and retrieving uploaded documents.
type ObjectStore interface {
	// Save writes r under the owner's namespace. An empty contentType is sniffed.
	Save(ctx context.Context, ownerID, fileName, contentType string, r io.Reader) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// URL returns the address clients use to fetch the object.
	URL(key string) string
}
