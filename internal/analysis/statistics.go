package analysis

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rendis/docket/internal/dispatch"
	"github.com/rendis/docket/internal/document"
	"github.com/rendis/docket/pkg/schema"
)

// wordsPerMinute is the fixed reading-speed rate for the time estimate.
const wordsPerMinute = 200

var wordRe = regexp.MustCompile(`\b\w+\b`)

// StatisticsActivity computes page count, word count, average words per page
// and an estimated reading time. A zero-page document yields all zeros.
type StatisticsActivity struct {
	source document.Source
}

// NewStatisticsActivity creates the analyze_statistics activity.
func NewStatisticsActivity(source document.Source) *StatisticsActivity {
	return &StatisticsActivity{source: source}
}

func (a *StatisticsActivity) Name() string {
	return schema.ActivityAnalyzeStatistics
}

func (a *StatisticsActivity) Schema() dispatch.ActivitySchema {
	return dispatch.ActivitySchema{
		InputSchema: documentInputSchema,
		Description: "Compute page, word and reading-time statistics",
	}
}

func (a *StatisticsActivity) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	ref, err := parseRef(input)
	if err != nil {
		return nil, err
	}
	if ref.BlobName == "" {
		return json.Marshal(schema.StatisticsResult{})
	}

	doc, err := fetchParsed(ctx, a.source, ref)
	if err != nil {
		return nil, err
	}

	fullText := strings.Join(doc.Pages, "\n")
	wordCount := len(wordRe.FindAllString(fullText, -1))

	result := schema.StatisticsResult{
		PageCount: doc.PageCount,
		WordCount: wordCount,
	}
	if doc.PageCount > 0 {
		result.AvgWordsPerPage = float64(wordCount) / float64(doc.PageCount)
	}
	result.EstimatedReadingTimeMinutes = float64(wordCount) / wordsPerMinute

	return json.Marshal(result)
}
