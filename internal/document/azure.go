package document

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/rendis/docket/pkg/schema"
)

// AzureSource reads documents from Azure Blob Storage. Containers map to
// blob containers and document names to blob names.
type AzureSource struct {
	client *azblob.Client
	logger *slog.Logger
}

// NewAzureSource creates a source from a storage-account connection string.
// The connection is validated lazily on first use.
func NewAzureSource(connectionString string, logger *slog.Logger) (*AzureSource, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &AzureSource{
		client: client,
		logger: logger.With("component", "document_source"),
	}, nil
}

func (a *AzureSource) Fetch(ctx context.Context, container, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	resp, err := a.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "document %s/%s not found", container, name)
		}
		return nil, schema.NewErrorf(schema.ErrCodeRetrieval, "download %s/%s", container, name).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeRetrieval, "read %s/%s", container, name).WithCause(err)
	}
	return data, nil
}

func (a *AzureSource) Put(ctx context.Context, container, name string, r io.Reader, contentType string) error {
	if err := validateName(name); err != nil {
		return err
	}

	opts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: &contentType,
		},
	}
	if _, err := a.client.UploadStream(ctx, container, name, r, opts); err != nil {
		return schema.NewErrorf(schema.ErrCodeRetrieval, "upload %s/%s", container, name).WithCause(err)
	}
	return nil
}

func (a *AzureSource) List(ctx context.Context, container string) ([]string, error) {
	var names []string
	pager := a.client.NewListBlobsFlatPager(container, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return nil, schema.NewErrorf(schema.ErrCodeNotFound, "container %q not found", container)
			}
			return nil, schema.NewErrorf(schema.ErrCodeRetrieval, "list container %s", container).WithCause(err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

func (a *AzureSource) Ensure(ctx context.Context, container string) error {
	_, err := a.client.CreateContainer(ctx, container, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeRetrieval, "create container %s", container).WithCause(err)
	}
	a.logger.Info("container created", "container", container)
	return nil
}
