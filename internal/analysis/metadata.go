package analysis

import (
	"context"
	"encoding/json"

	"github.com/rendis/docket/internal/dispatch"
	"github.com/rendis/docket/internal/document"
	"github.com/rendis/docket/pkg/schema"
)

// MetadataActivity extracts the document's descriptive metadata. Absent
// values stay empty strings; absent metadata is not an error.
type MetadataActivity struct {
	source document.Source
}

// NewMetadataActivity creates the extract_metadata activity.
func NewMetadataActivity(source document.Source) *MetadataActivity {
	return &MetadataActivity{source: source}
}

func (a *MetadataActivity) Name() string {
	return schema.ActivityExtractMetadata
}

func (a *MetadataActivity) Schema() dispatch.ActivitySchema {
	return dispatch.ActivitySchema{
		InputSchema: documentInputSchema,
		Description: "Extract title, author and other descriptive metadata",
	}
}

func (a *MetadataActivity) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	ref, err := parseRef(input)
	if err != nil {
		return nil, err
	}
	if ref.BlobName == "" {
		return json.Marshal(schema.MetadataResult{})
	}

	doc, err := fetchParsed(ctx, a.source, ref)
	if err != nil {
		return nil, err
	}

	result := schema.MetadataResult{
		Title:        doc.Meta.Title,
		Author:       doc.Meta.Author,
		Subject:      doc.Meta.Subject,
		Creator:      doc.Meta.Creator,
		Producer:     doc.Meta.Producer,
		CreationDate: doc.Meta.CreationDate,
		ModDate:      doc.Meta.ModDate,
	}

	return json.Marshal(result)
}
