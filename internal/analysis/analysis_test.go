package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/docket/internal/document"
	"github.com/rendis/docket/pkg/schema"
)

// sampleDoc is a two-page text document exercising every analysis activity.
const sampleDoc = "Quarterly revenue report.\nContact alice@example.com or call 555-123-4567.\fSee https://example.com/details published 2024-01-15.\nSecond contact: bob@example.com."

// newTestSource seeds a memory source with sampleDoc under pdfs/report.txt.
func newTestSource(t *testing.T) document.Source {
	t.Helper()
	src := document.NewMemorySource()
	require.NoError(t, src.Ensure(context.Background(), "pdfs"))
	require.NoError(t, src.Put(context.Background(), "pdfs", "report.txt",
		bytes.NewReader([]byte(sampleDoc)), "text/plain"))
	return src
}

func docInput(t *testing.T, container, blobName string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(schema.DocumentRef{Container: container, BlobName: blobName})
	require.NoError(t, err)
	return raw
}

func requireErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var derr *schema.DocketError
	require.True(t, errors.As(err, &derr))
	require.Equal(t, code, derr.Code)
}
