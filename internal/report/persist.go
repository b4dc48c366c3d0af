package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/docket/internal/dispatch"
	"github.com/rendis/docket/internal/store"
	"github.com/rendis/docket/pkg/schema"
)

// ReportsTable is the logical table name echoed in store results.
const ReportsTable = "reports"

var storeInputSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "container": {"type": "string"},
    "blob_name": {"type": "string"},
    "generated_at_utc": {"type": "string"}
  }
}`)

// StoreActivity persists an assembled report under (container, blob_name).
// Re-running it for the same document merges over the previous row, so the
// activity stays idempotent under redelivery.
type StoreActivity struct {
	store      store.Store
	classifier *Classifier
}

// NewStoreActivity creates the store_report activity. A nil classifier
// leaves the classification label empty.
func NewStoreActivity(st store.Store, classifier *Classifier) *StoreActivity {
	return &StoreActivity{store: st, classifier: classifier}
}

func (a *StoreActivity) Name() string {
	return schema.ActivityStoreReport
}

func (a *StoreActivity) Schema() dispatch.ActivitySchema {
	return dispatch.ActivitySchema{
		InputSchema: storeInputSchema,
		Description: "Persist the assembled report keyed by container and blob name",
	}
}

func (a *StoreActivity) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var rep schema.Report
	if len(input) > 0 {
		if err := json.Unmarshal(input, &rep); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "decode store input").WithCause(err)
		}
	}
	if rep.BlobName == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "store_report requires a blob_name")
	}
	if rep.Container == "" {
		rep.Container = schema.DefaultContainer
	}
	generatedAt := rep.GeneratedAtUTC
	if generatedAt == "" {
		generatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	row := &store.ReportRow{
		PartitionKey:   rep.Container,
		RowKey:         rep.BlobName,
		GeneratedAtUTC: generatedAt,
		// The row keeps the payload exactly as handed in; defaults applied
		// above live only in the keys and the timestamp column.
		Report:         input,
		Classification: a.classifier.Classify(ctx, &rep),
	}
	if err := a.store.UpsertReport(ctx, row); err != nil {
		return nil, err
	}

	return json.Marshal(schema.StoreResult{
		PartitionKey: row.PartitionKey,
		RowKey:       row.RowKey,
		Table:        ReportsTable,
	})
}
