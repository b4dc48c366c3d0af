package analysis

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/rendis/docket/internal/dispatch"
	"github.com/rendis/docket/internal/document"
	"github.com/rendis/docket/pkg/schema"
)

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	urlRe   = regexp.MustCompile(`\bhttps?://[^\s)]+|\bwww\.[^\s)]+`)
	phoneRe = regexp.MustCompile(`\b(?:\+?1[-.\s]?)?(?:\(?\d{3}\)?[-.\s]?)\d{3}[-.\s]?\d{4}\b`)
	dateRe  = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})\b`)
)

// SensitiveActivity scans the concatenated document text for emails, phone
// numbers, URLs and date-like strings. Matches are de-duplicated and sorted
// lexicographically.
type SensitiveActivity struct {
	source document.Source
}

// NewSensitiveActivity creates the detect_sensitive_data activity.
func NewSensitiveActivity(source document.Source) *SensitiveActivity {
	return &SensitiveActivity{source: source}
}

func (a *SensitiveActivity) Name() string {
	return schema.ActivityDetectSensitiveData
}

func (a *SensitiveActivity) Schema() dispatch.ActivitySchema {
	return dispatch.ActivitySchema{
		InputSchema: documentInputSchema,
		Description: "Detect emails, phone numbers, URLs and dates in the text",
	}
}

func (a *SensitiveActivity) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	ref, err := parseRef(input)
	if err != nil {
		return nil, err
	}
	if ref.BlobName == "" {
		return json.Marshal(schema.EmptySensitiveResult())
	}

	doc, err := fetchParsed(ctx, a.source, ref)
	if err != nil {
		return nil, err
	}

	text := strings.Join(doc.Pages, "\n")
	result := schema.SensitiveResult{
		Emails: sortedUnique(emailRe.FindAllString(text, -1)),
		Phones: sortedUnique(phoneRe.FindAllString(text, -1)),
		URLs:   sortedUnique(urlRe.FindAllString(text, -1)),
		Dates:  sortedUnique(dateRe.FindAllString(text, -1)),
	}

	return json.Marshal(result)
}

// sortedUnique de-duplicates and sorts matches. Always returns a non-nil
// slice so the JSON shape stays an array, never null.
func sortedUnique(matches []string) []string {
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
