package document

import (
	"bytes"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/rendis/docket/pkg/schema"
)

// parsePDF reads the page count via pdfcpu. Page text and metadata are not
// extracted; pages carry empty strings and metadata stays at its defaults.
func parsePDF(data []byte) (*Parsed, error) {
	count, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "read pdf").WithCause(err)
	}
	return &Parsed{
		PageCount: count,
		Pages:     make([]string, count),
	}, nil
}
