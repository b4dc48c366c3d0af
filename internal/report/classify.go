package report

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/docket/internal/expressions"
	"github.com/rendis/docket/pkg/schema"
)

// DefaultRule flags documents carrying direct contact details.
const DefaultRule = `len(sensitive.emails) > 0 || len(sensitive.phones) > 0 ? "sensitive" : "clean"`

// Classifier labels a finished report by evaluating a rule expression over
// its sections. Classification is advisory: any failure yields an empty
// label and the report is stored regardless.
type Classifier struct {
	eval   expressions.Evaluator
	rule   string
	logger *slog.Logger
}

// NewClassifier builds a classifier. An empty rule selects DefaultRule.
func NewClassifier(eval expressions.Evaluator, rule string, logger *slog.Logger) *Classifier {
	if rule == "" {
		rule = DefaultRule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{eval: eval, rule: rule, logger: logger}
}

// Classify evaluates the rule against the report. A broken rule or a
// non-string result logs a warning and returns "".
func (c *Classifier) Classify(ctx context.Context, rep *schema.Report) string {
	if c == nil || c.eval == nil {
		return ""
	}
	scope, err := classificationScope(rep)
	if err != nil {
		c.logger.Warn("classification scope build failed", "error", err)
		return ""
	}
	out, err := c.eval.Evaluate(ctx, c.rule, scope)
	if err != nil {
		c.logger.Warn("classification rule failed", "engine", c.eval.Name(), "error", err)
		return ""
	}
	label, ok := out.(string)
	if !ok {
		c.logger.Warn("classification rule returned non-string result", "engine", c.eval.Name())
		return ""
	}
	return label
}

// classificationScope exposes the report to the rule as plain maps so both
// engines see identical JSON-shaped data.
func classificationScope(rep *schema.Report) (map[string]any, error) {
	sensitive, err := toMap(rep.SensitiveData)
	if err != nil {
		return nil, err
	}
	statistics, err := toMap(rep.Statistics)
	if err != nil {
		return nil, err
	}
	metadata, err := toMap(rep.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"document": map[string]any{
			"container": rep.Container,
			"blob_name": rep.BlobName,
		},
		"sensitive":  sensitive,
		"statistics": statistics,
		"metadata":   metadata,
	}, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
