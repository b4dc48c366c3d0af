package validation

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const documentInputSchema = `{
  "type": "object",
  "properties": {
    "container": {"type": "string"},
    "blob_name": {"type": "string"}
  },
  "required": ["container", "blob_name"]
}`

func TestValidateInput_Valid(t *testing.T) {
	v := newTestValidator(t)

	err := v.ValidateInput(
		json.RawMessage(`{"container":"pdfs","blob_name":"a.pdf"}`),
		[]byte(documentInputSchema),
	)
	require.NoError(t, err)
}

func TestValidateInput_NoSchemaAcceptsAnything(t *testing.T) {
	v := newTestValidator(t)

	require.NoError(t, v.ValidateInput(json.RawMessage(`{"anything":true}`), nil))
	require.NoError(t, v.ValidateInput(json.RawMessage(`not even json`), nil))
	require.NoError(t, v.ValidateInput(nil, nil))
}

func TestValidateInput_MissingRequiredField(t *testing.T) {
	v := newTestValidator(t)

	err := v.ValidateInput(json.RawMessage(`{"container":"pdfs"}`), []byte(documentInputSchema))
	derr := requireValidationError(t, err)

	violations, ok := derr.Details["violations"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}

func TestValidateInput_TypeMismatch(t *testing.T) {
	v := newTestValidator(t)

	err := v.ValidateInput(
		json.RawMessage(`{"container":42,"blob_name":"a.pdf"}`),
		[]byte(documentInputSchema),
	)
	requireValidationError(t, err)
}

func TestValidateInput_EmptyInputTreatedAsObject(t *testing.T) {
	v := newTestValidator(t)

	// Required properties make the empty object invalid.
	err := v.ValidateInput(nil, []byte(documentInputSchema))
	requireValidationError(t, err)

	// Without required properties the empty object passes.
	require.NoError(t, v.ValidateInput(nil, []byte(`{"type":"object"}`)))
}

func TestValidateInput_InvalidInputJSON(t *testing.T) {
	v := newTestValidator(t)

	err := v.ValidateInput(json.RawMessage(`{oops`), []byte(documentInputSchema))
	derr := requireValidationError(t, err)
	assert.Contains(t, derr.Message, "not valid JSON")
}

func TestValidateInput_InvalidSchema(t *testing.T) {
	v := newTestValidator(t)

	err := v.ValidateInput(json.RawMessage(`{}`), []byte(`{`))
	derr := requireValidationError(t, err)
	assert.Contains(t, derr.Message, "invalid input schema")
}

func TestValidateInput_CompiledSchemaCached(t *testing.T) {
	v := newTestValidator(t)

	input := json.RawMessage(`{"container":"pdfs","blob_name":"a.pdf"}`)
	require.NoError(t, v.ValidateInput(input, []byte(documentInputSchema)))
	require.NoError(t, v.ValidateInput(input, []byte(documentInputSchema)))
	assert.Len(t, v.cache, 1)

	require.NoError(t, v.ValidateInput(input, []byte(`{"type":"object"}`)))
	assert.Len(t, v.cache, 2)
}

func TestValidateInput_ConcurrentValidation(t *testing.T) {
	v := newTestValidator(t)
	input := json.RawMessage(`{"container":"pdfs","blob_name":"a.pdf"}`)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- v.ValidateInput(input, []byte(documentInputSchema))
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, v.cache, 1)
}
