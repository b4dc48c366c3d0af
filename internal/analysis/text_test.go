package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docket/pkg/schema"
)

func TestTextActivity_ExtractsPages(t *testing.T) {
	a := NewTextActivity(newTestSource(t))

	out, err := a.Execute(context.Background(), docInput(t, "pdfs", "report.txt"))
	require.NoError(t, err)

	var result schema.TextResult
	require.NoError(t, json.Unmarshal(out, &result))

	require.Len(t, result.Pages, 2)
	assert.Equal(t, 1, result.Pages[0].Page)
	assert.Equal(t, 2, result.Pages[1].Page)
	assert.Contains(t, result.Pages[0].Text, "Quarterly revenue report.")
	assert.Contains(t, result.Pages[1].Text, "Second contact")

	// Full text joins the non-empty pages with a newline.
	assert.Equal(t, result.Pages[0].Text+"\n"+result.Pages[1].Text, result.FullText)
}

func TestTextActivity_EmptyBlobNameReturnsEmptyShape(t *testing.T) {
	a := NewTextActivity(newTestSource(t))

	out, err := a.Execute(context.Background(), json.RawMessage(`{"container":"pdfs"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"pages":[],"full_text":""}`, string(out))
}

func TestTextActivity_NilInputReturnsEmptyShape(t *testing.T) {
	a := NewTextActivity(newTestSource(t))

	out, err := a.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pages":[],"full_text":""}`, string(out))
}

func TestTextActivity_MissingDocument(t *testing.T) {
	a := NewTextActivity(newTestSource(t))

	_, err := a.Execute(context.Background(), docInput(t, "pdfs", "missing.txt"))
	requireErrorCode(t, err, schema.ErrCodeNotFound)
}

func TestTextActivity_EmptyDocumentIsOnePage(t *testing.T) {
	src := newTestSource(t)
	require.NoError(t, src.Put(context.Background(), "pdfs", "empty.txt",
		bytes.NewReader(nil), "text/plain"))

	a := NewTextActivity(src)
	out, err := a.Execute(context.Background(), docInput(t, "pdfs", "empty.txt"))
	require.NoError(t, err)

	var result schema.TextResult
	require.NoError(t, json.Unmarshal(out, &result))

	// An empty document still has one (empty) page; it never joins into
	// the full text.
	require.Len(t, result.Pages, 1)
	assert.Equal(t, "", result.Pages[0].Text)
	assert.Equal(t, "", result.FullText)
}

func TestTextActivity_InvalidInput(t *testing.T) {
	a := NewTextActivity(newTestSource(t))

	_, err := a.Execute(context.Background(), json.RawMessage(`{"container":42}`))
	requireErrorCode(t, err, schema.ErrCodeValidation)
}
