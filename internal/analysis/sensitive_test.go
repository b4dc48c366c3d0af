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

func TestSensitiveActivity_DetectsAllClasses(t *testing.T) {
	a := NewSensitiveActivity(newTestSource(t))

	out, err := a.Execute(context.Background(), docInput(t, "pdfs", "report.txt"))
	require.NoError(t, err)

	var result schema.SensitiveResult
	require.NoError(t, json.Unmarshal(out, &result))

	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, result.Emails)
	assert.Equal(t, []string{"555-123-4567"}, result.Phones)
	assert.Equal(t, []string{"https://example.com/details"}, result.URLs)
	assert.Equal(t, []string{"2024-01-15"}, result.Dates)
}

func TestSensitiveActivity_DeduplicatesAndSorts(t *testing.T) {
	src := newTestSource(t)
	doc := "zoe@last.org first@a.com zoe@last.org first@a.com"
	require.NoError(t, src.Put(context.Background(), "pdfs", "dup.txt",
		bytes.NewReader([]byte(doc)), "text/plain"))

	a := NewSensitiveActivity(src)
	out, err := a.Execute(context.Background(), docInput(t, "pdfs", "dup.txt"))
	require.NoError(t, err)

	var result schema.SensitiveResult
	require.NoError(t, json.Unmarshal(out, &result))

	assert.Equal(t, []string{"first@a.com", "zoe@last.org"}, result.Emails)
}

func TestSensitiveActivity_CleanDocument(t *testing.T) {
	src := newTestSource(t)
	require.NoError(t, src.Put(context.Background(), "pdfs", "clean.txt",
		bytes.NewReader([]byte("nothing to see here")), "text/plain"))

	a := NewSensitiveActivity(src)
	out, err := a.Execute(context.Background(), docInput(t, "pdfs", "clean.txt"))
	require.NoError(t, err)

	// Empty match lists stay arrays, never null.
	assert.JSONEq(t, `{"emails":[],"phones":[],"urls":[],"dates":[]}`, string(out))
}

func TestSensitiveActivity_DateFormats(t *testing.T) {
	src := newTestSource(t)
	doc := "Signed 2023-05-01, amended 3/14/24, effective 12/31/2024."
	require.NoError(t, src.Put(context.Background(), "pdfs", "dates.txt",
		bytes.NewReader([]byte(doc)), "text/plain"))

	a := NewSensitiveActivity(src)
	out, err := a.Execute(context.Background(), docInput(t, "pdfs", "dates.txt"))
	require.NoError(t, err)

	var result schema.SensitiveResult
	require.NoError(t, json.Unmarshal(out, &result))

	assert.Equal(t, []string{"12/31/2024", "2023-05-01", "3/14/24"}, result.Dates)
}

func TestSensitiveActivity_EmptyBlobNameReturnsEmptyShape(t *testing.T) {
	a := NewSensitiveActivity(newTestSource(t))

	out, err := a.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"emails":[],"phones":[],"urls":[],"dates":[]}`, string(out))
}

func TestSensitiveActivity_MissingDocument(t *testing.T) {
	a := NewSensitiveActivity(newTestSource(t))

	_, err := a.Execute(context.Background(), docInput(t, "pdfs", "missing.txt"))
	requireErrorCode(t, err, schema.ErrCodeNotFound)
}

func TestActivityNamesMatchFanOutOrder(t *testing.T) {
	src := newTestSource(t)
	names := []string{
		NewTextActivity(src).Name(),
		NewMetadataActivity(src).Name(),
		NewStatisticsActivity(src).Name(),
		NewSensitiveActivity(src).Name(),
	}
	assert.Equal(t, schema.FanOutActivities, names)
}
