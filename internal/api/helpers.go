package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rendis/docket/pkg/schema"
)

const (
	// maxBodyBytes caps start-request bodies.
	maxBodyBytes = 1 << 20

	defaultTop = 50
	maxTop     = 200
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDocketError maps a typed error to its HTTP status.
func writeDocketError(w http.ResponseWriter, err error) {
	writeError(w, statusFromError(err), err.Error())
}

// statusFromError maps error codes to HTTP statuses; unknown errors are 500.
func statusFromError(err error) int {
	var derr *schema.DocketError
	if !errors.As(err, &derr) {
		return http.StatusInternalServerError
	}
	switch derr.Code {
	case schema.ErrCodeValidation, schema.ErrCodeParse, schema.ErrCodeExpression:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// clampTop bounds the list page size to [1, maxTop].
func clampTop(top int) int {
	if top < 1 {
		return 1
	}
	if top > maxTop {
		return maxTop
	}
	return top
}
