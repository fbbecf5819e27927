package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// AzureStorage implements ObjectStorage for Azure Blob Storage.
type AzureStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string // takes precedence over account name and key
	Prefix           string
}

// NewAzureStorage creates a new Azure Blob Storage adapter.
func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	return &AzureStorage{
		client:    client,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func newAzureClient(cfg AzureConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	serviceURL := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	return azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
}

// List returns the study-area blobs below the prefix.
func (s *AzureStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	opts := &azblob.ListBlobsFlatOptions{}
	if s.prefix != "" {
		prefix := s.prefix + "/"
		opts.Prefix = &prefix
	}

	pager := s.client.NewListBlobsFlatPager(s.container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if obj, ok := s.blobObject(item); ok {
				objects = append(objects, obj)
			}
		}
	}

	return objects, nil
}

// blobObject converts a listed blob. Non study-area blobs are skipped.
func (s *AzureStorage) blobObject(item *container.BlobItem) (output.StorageObject, bool) {
	if item.Name == nil {
		return output.StorageObject{}, false
	}
	key := s.relKey(*item.Name)
	if !IsStudyAreaFile(key) {
		return output.StorageObject{}, false
	}

	obj := output.StorageObject{Key: key}
	if p := item.Properties; p != nil {
		if p.ContentLength != nil {
			obj.Size = *p.ContentLength
		}
		if p.LastModified != nil {
			obj.LastModified = p.LastModified.Unix()
		}
		if p.ETag != nil {
			obj.ETag = string(*p.ETag)
		}
	}
	return obj, true
}

// Stat implements output.ObjectStorage.
func (s *AzureStorage) Stat(ctx context.Context, key string) (output.StorageObject, error) {
	blob := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(s.fullKey(key))
	props, err := blob.GetProperties(ctx, nil)
	if err != nil {
		return output.StorageObject{}, azureError(err)
	}

	obj := output.StorageObject{Key: key}
	if props.ContentLength != nil {
		obj.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		obj.LastModified = props.LastModified.Unix()
	}
	if props.ETag != nil {
		obj.ETag = string(*props.ETag)
	}
	return obj, nil
}

// Open implements output.ObjectStorage.
func (s *AzureStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.fullKey(key), nil)
	if err != nil {
		return nil, azureError(err)
	}
	return resp.Body, nil
}

func (s *AzureStorage) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *AzureStorage) relKey(name string) string {
	if s.prefix == "" {
		return name
	}
	return strings.TrimPrefix(strings.TrimPrefix(name, s.prefix), "/")
}

func azureError(err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return err
}
