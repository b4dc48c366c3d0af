// Package analysis implements the four fan-out activities: text extraction,
// metadata extraction, statistics, and sensitive-data detection. All four are
// input-pure transformations over the same fetched document, safe to
// re-dispatch with the same input.
package analysis

import (
	"context"
	"encoding/json"

	"github.com/rendis/docket/internal/document"
	"github.com/rendis/docket/pkg/schema"
)

// documentInputSchema validates the shared analysis payload. blob_name is
// deliberately optional: an absent document key yields the activity's empty
// result shape instead of an error.
var documentInputSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "container": {"type": "string"},
    "blob_name": {"type": "string"}
  }
}`)

// parseRef decodes the shared activity input and applies the container
// default.
func parseRef(input json.RawMessage) (schema.DocumentRef, error) {
	var ref schema.DocumentRef
	if len(input) > 0 {
		if err := json.Unmarshal(input, &ref); err != nil {
			return ref, schema.NewError(schema.ErrCodeValidation, "decode activity input").WithCause(err)
		}
	}
	if ref.Container == "" {
		ref.Container = schema.DefaultContainer
	}
	return ref, nil
}

// fetchParsed downloads and parses the referenced document. Retrieval and
// parse errors propagate to the dispatcher unswallowed.
func fetchParsed(ctx context.Context, src document.Source, ref schema.DocumentRef) (*document.Parsed, error) {
	data, err := src.Fetch(ctx, ref.Container, ref.BlobName)
	if err != nil {
		return nil, err
	}
	return document.Parse(data)
}
