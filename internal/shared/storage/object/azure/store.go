package azure

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/vriksha-code/verisure/internal/shared/storage/object"
	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

// Store implements ObjectStore on an Azure Blob Storage container.
type Store struct {
	client     *azblob.Client
	accountURL string
	container  string
}

// New authenticates with the default Azure credential chain.
func New(ctx context.Context, accountURL, container string) (*Store, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	return NewWithCredential(ctx, accountURL, container, cred)
}

// NewWithCredential creates the container if it is missing.
func NewWithCredential(ctx context.Context, accountURL, container string, cred azcore.TokenCredential) (*Store, error) {
	if strings.TrimSpace(accountURL) == "" {
		return nil, fmt.Errorf("azure account url is required")
	}
	if container == "" {
		container = "documents"
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if _, err := client.CreateContainer(ctx, container, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		telemetry.Warn("object.azblob.container_init_failed", map[string]any{"container": container, "err": err})
	}
	return &Store{client: client, accountURL: accountURL, container: container}, nil
}

// Save streams the body into a block blob.
func (s *Store) Save(ctx context.Context, ownerID, fileName, contentType string, r io.Reader) (object.Object, error) {
	key, err := object.NewKey(ownerID, fileName)
	if err != nil {
		return object.Object{}, fmt.Errorf("sanitize file name: %w", err)
	}
	ct, body, err := object.Sniff(contentType, r)
	if err != nil {
		return object.Object{}, err
	}
	counter := &object.CountingReader{R: body}
	opts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	}
	if _, err := s.client.UploadStream(ctx, s.container, key, counter, opts); err != nil {
		return object.Object{}, fmt.Errorf("upload blob %s: %w", key, err)
	}
	return object.Object{Key: key, Size: counter.N, ContentType: ct}, nil
}

// Open downloads a blob. The caller must close the reader.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := object.ValidateKey(key); err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, object.ErrNotFound
		}
		return nil, fmt.Errorf("download blob %s: %w", key, err)
	}
	return resp.Body, nil
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := object.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.client.DeleteBlob(ctx, s.container, key, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return object.ErrNotFound
		}
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// URL returns <account>/<container>/<key>.
func (s *Store) URL(key string) string {
	return object.JoinURL(object.JoinURL(s.accountURL, s.container), key)
}

var _ object.ObjectStore = (*Store)(nil)
