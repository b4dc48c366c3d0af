// Package validation checks orchestration start requests and activity inputs
// against JSON Schemas (Draft 2020-12).
package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/docket/pkg/schema"
)

// startRequestSchemaJSON is the JSON Schema for orchestration start bodies.
// Embedded as a constant to avoid filesystem dependencies.
const startRequestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://docket.dev/schemas/start-request.json",
  "type": "object",
  "properties": {
    "container": {
      "type": "string",
      "minLength": 1
    },
    "blob_name": {
      "type": "string",
      "minLength": 1
    },
    "name": {
      "type": "string",
      "minLength": 1
    }
  },
  "anyOf": [
    { "required": ["blob_name"] },
    { "required": ["name"] }
  ],
  "additionalProperties": false
}`

// Validator validates start requests and activity inputs. It is safe for
// concurrent use.
type Validator struct {
	startSchema *jsonschema.Schema

	// mu guards the cache for dynamic input-schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewValidator creates a Validator with the start-request schema pre-compiled.
func NewValidator() (*Validator, error) {
	c := newCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(startRequestSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal start-request schema: %w", err)
	}
	if err := c.AddResource("https://docket.dev/schemas/start-request.json", doc); err != nil {
		return nil, fmt.Errorf("add start-request schema resource: %w", err)
	}

	compiled, err := c.Compile("https://docket.dev/schemas/start-request.json")
	if err != nil {
		return nil, fmt.Errorf("compile start-request schema: %w", err)
	}

	return &Validator{
		startSchema: compiled,
		cache:       make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateStartRequest validates a raw start body and returns the parsed
// request. A nil or empty body is treated as an empty object, which fails
// validation because it names no document.
func (v *Validator) ValidateStartRequest(raw json.RawMessage) (*schema.StartRequest, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "start request is not valid JSON").WithCause(err)
	}

	if err := v.startSchema.Validate(doc); err != nil {
		return nil, toDocketError(err)
	}

	var req schema.StartRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode start request").WithCause(err)
	}
	return &req, nil
}

// newCompiler creates a Compiler configured for request/input validation.
func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toDocketError converts a jsonschema.ValidationError into a DocketError
// with one message per violated constraint.
func toDocketError(err error) *schema.DocketError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
