// Package report implements the chained tail of an orchestration: report
// assembly (generate_report), rule-based classification, and persistence
// (store_report).
package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/docket/internal/dispatch"
	"github.com/rendis/docket/pkg/schema"
)

// builderInputSchema loosely validates the assembly payload; section objects
// are optional and default to their empty shapes.
var builderInputSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "container": {"type": "string"},
    "blob_name": {"type": "string"}
  }
}`)

// BuilderActivity merges the four analysis outputs into one Report. It is a
// pure transformation apart from the generation timestamp.
type BuilderActivity struct{}

// NewBuilderActivity creates the generate_report activity.
func NewBuilderActivity() *BuilderActivity {
	return &BuilderActivity{}
}

func (a *BuilderActivity) Name() string {
	return schema.ActivityGenerateReport
}

func (a *BuilderActivity) Schema() dispatch.ActivitySchema {
	return dispatch.ActivitySchema{
		InputSchema: builderInputSchema,
		Description: "Assemble the analysis outputs into one report",
	}
}

func (a *BuilderActivity) Execute(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in schema.ReportInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "decode report input").WithCause(err)
		}
	}
	if in.Container == "" {
		in.Container = schema.DefaultContainer
	}

	report := schema.Report{
		Container:      in.Container,
		BlobName:       in.BlobName,
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339),
		ExtractText:    schema.EmptyTextResult(),
		SensitiveData:  schema.EmptySensitiveResult(),
	}
	// Missing sections keep their empty shapes, never null.
	if in.ExtractText != nil {
		report.ExtractText = *in.ExtractText
	}
	if in.Metadata != nil {
		report.Metadata = *in.Metadata
	}
	if in.Statistics != nil {
		report.Statistics = *in.Statistics
	}
	if in.SensitiveData != nil {
		report.SensitiveData = *in.SensitiveData
	}

	return json.Marshal(report)
}
