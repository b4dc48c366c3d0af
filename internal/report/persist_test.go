package report

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docket/internal/expressions"
	"github.com/rendis/docket/internal/store"
	"github.com/rendis/docket/pkg/schema"
)

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "reports.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newStoreActivity(t *testing.T) (*StoreActivity, *store.LibSQLStore) {
	t.Helper()
	st := newTestStore(t)
	classifier := NewClassifier(expressions.NewExprEngine(), "", discardLogger())
	return NewStoreActivity(st, classifier), st
}

func reportJSON(t *testing.T, rep *schema.Report) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(rep)
	require.NoError(t, err)
	return raw
}

func TestStoreActivity_PersistsRow(t *testing.T) {
	act, st := newStoreActivity(t)
	ctx := context.Background()
	input := reportJSON(t, sampleReport())

	out, err := act.Execute(ctx, input)
	require.NoError(t, err)

	var res schema.StoreResult
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, "pdfs", res.PartitionKey)
	assert.Equal(t, "contract.pdf", res.RowKey)
	assert.Equal(t, ReportsTable, res.Table)

	row, err := st.GetReport(ctx, "pdfs", "contract.pdf")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-23T10:00:00Z", row.GeneratedAtUTC)
	assert.Equal(t, "sensitive", row.Classification)
	assert.JSONEq(t, string(input), string(row.Report))
}

func TestStoreActivity_MissingBlobNameFails(t *testing.T) {
	act, _ := newStoreActivity(t)

	_, err := act.Execute(context.Background(), json.RawMessage(`{"container":"pdfs"}`))
	require.Error(t, err)
	var derr *schema.DocketError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodeValidation, derr.Code)
	assert.Contains(t, derr.Message, "blob_name")
}

func TestStoreActivity_EmptyInputFails(t *testing.T) {
	act, _ := newStoreActivity(t)

	_, err := act.Execute(context.Background(), nil)
	require.Error(t, err)
	var derr *schema.DocketError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodeValidation, derr.Code)
}

func TestStoreActivity_InvalidInputFails(t *testing.T) {
	act, _ := newStoreActivity(t)

	_, err := act.Execute(context.Background(), json.RawMessage(`{oops`))
	require.Error(t, err)
	var derr *schema.DocketError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodeValidation, derr.Code)
}

func TestStoreActivity_DefaultsContainerAndTimestamp(t *testing.T) {
	act, st := newStoreActivity(t)
	ctx := context.Background()
	input := json.RawMessage(`{"blob_name":"bare.pdf"}`)

	out, err := act.Execute(ctx, input)
	require.NoError(t, err)

	var res schema.StoreResult
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, schema.DefaultContainer, res.PartitionKey)

	row, err := st.GetReport(ctx, schema.DefaultContainer, "bare.pdf")
	require.NoError(t, err)
	ts, err := time.Parse(time.RFC3339, row.GeneratedAtUTC)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
	// The stored payload is exactly what came in; key defaults are not
	// folded back into it.
	assert.JSONEq(t, string(input), string(row.Report))
}

func TestStoreActivity_RerunMergesRow(t *testing.T) {
	act, st := newStoreActivity(t)
	ctx := context.Background()

	first := sampleReport()
	_, err := act.Execute(ctx, reportJSON(t, first))
	require.NoError(t, err)

	second := sampleReport()
	second.GeneratedAtUTC = "2026-08-23T11:30:00Z"
	second.SensitiveData = schema.EmptySensitiveResult()
	_, err = act.Execute(ctx, reportJSON(t, second))
	require.NoError(t, err)

	row, err := st.GetReport(ctx, "pdfs", "contract.pdf")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-23T11:30:00Z", row.GeneratedAtUTC)
	assert.Equal(t, "clean", row.Classification)
	assert.JSONEq(t, string(reportJSON(t, second)), string(row.Report))
}

func TestStoreActivity_NilClassifierLeavesLabelEmpty(t *testing.T) {
	st := newTestStore(t)
	act := NewStoreActivity(st, nil)
	ctx := context.Background()

	_, err := act.Execute(ctx, reportJSON(t, sampleReport()))
	require.NoError(t, err)

	row, err := st.GetReport(ctx, "pdfs", "contract.pdf")
	require.NoError(t, err)
	assert.Empty(t, row.Classification)
}

func TestChainActivityNames(t *testing.T) {
	assert.Equal(t, schema.ActivityGenerateReport, NewBuilderActivity().Name())
	assert.Equal(t, schema.ActivityStoreReport, NewStoreActivity(nil, nil).Name())
	assert.Equal(t, []string{schema.ActivityGenerateReport, schema.ActivityStoreReport}, schema.ChainActivities)
}
