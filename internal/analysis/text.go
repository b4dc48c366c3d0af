package analysis

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rendis/docket/internal/dispatch"
	"github.com/rendis/docket/internal/document"
	"github.com/rendis/docket/pkg/schema"
)

// TextActivity extracts ordered per-page text and the concatenation of all
// non-empty pages.
type TextActivity struct {
	source document.Source
}

// NewTextActivity creates the extract_text activity.
func NewTextActivity(source document.Source) *TextActivity {
	return &TextActivity{source: source}
}

func (a *TextActivity) Name() string {
	return schema.ActivityExtractText
}

func (a *TextActivity) Schema() dispatch.ActivitySchema {
	return dispatch.ActivitySchema{
		InputSchema: documentInputSchema,
		Description: "Extract per-page text and the concatenated full text",
	}
}

func (a *TextActivity) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	ref, err := parseRef(input)
	if err != nil {
		return nil, err
	}
	if ref.BlobName == "" {
		return json.Marshal(schema.EmptyTextResult())
	}

	doc, err := fetchParsed(ctx, a.source, ref)
	if err != nil {
		return nil, err
	}

	result := schema.TextResult{Pages: make([]schema.PageText, 0, doc.PageCount)}
	var fullParts []string
	for i, text := range doc.Pages {
		result.Pages = append(result.Pages, schema.PageText{Page: i + 1, Text: text})
		if text != "" {
			fullParts = append(fullParts, text)
		}
	}
	result.FullText = strings.Join(fullParts, "\n")

	return json.Marshal(result)
}
