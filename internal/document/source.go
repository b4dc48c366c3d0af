package document

import (
	"context"
	"io"
	"strings"

	"github.com/rendis/docket/pkg/schema"
)

// Source fetches and enumerates documents in a storage backend.
type Source interface {
	// Fetch returns the raw bytes of a document. The error carries a
	// not_found code when the document does not exist.
	Fetch(ctx context.Context, container, name string) ([]byte, error)
	// Put stores a document under the given name.
	Put(ctx context.Context, container, name string, r io.Reader, contentType string) error
	// List returns the names of all documents in a container.
	List(ctx context.Context, container string) ([]string, error)
	// Ensure creates the container when it does not exist yet.
	Ensure(ctx context.Context, container string) error
}

// validateName rejects empty names and path-traversal segments before they
// reach a backend.
func validateName(name string) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "document name must not be empty")
	}
	if strings.Contains(name, "..") {
		return schema.NewErrorf(schema.ErrCodeValidation, "document name %q contains invalid path segment", name)
	}
	return nil
}
