// Package expressions provides sandboxed expression evaluation: the report
// classification rule (Expr or CEL, selected by configuration) and jq
// projections over stored reports.
package expressions

import (
	"context"

	"github.com/rendis/docket/pkg/schema"
)

// Evaluator evaluates a rule expression against analysis data. The data map
// is the expression environment; its keys become top-level variables.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// NewEvaluator returns the evaluator for the configured engine name.
func NewEvaluator(engine string) (Evaluator, error) {
	switch engine {
	case "", "expr":
		return NewExprEngine(), nil
	case "cel":
		return NewCELEngine()
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression engine %q", engine)
	}
}
