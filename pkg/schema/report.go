package schema

// Report is the consolidated output of one completed orchestration. Its JSON
// keys are a stable contract: consumers rely on every section being present
// with its empty shape rather than null when an analysis produced no data.
type Report struct {
	Container      string           `json:"container"`
	BlobName       string           `json:"blob_name"`
	GeneratedAtUTC string           `json:"generated_at_utc"`
	ExtractText    TextResult       `json:"extract_text"`
	Metadata       MetadataResult   `json:"extract_metadata"`
	Statistics     StatisticsResult `json:"analyze_statistics"`
	SensitiveData  SensitiveResult  `json:"detect_sensitive_data"`
}

// TextResult is the output of the text-extraction activity: ordered per-page
// text plus the concatenation of all non-empty pages.
type TextResult struct {
	Pages    []PageText `json:"pages"`
	FullText string     `json:"full_text"`
}

// PageText is the extracted text of a single page. Text may be empty when
// extraction yields nothing for that page; that is not an error.
type PageText struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// MetadataResult is the output of the metadata-extraction activity. Absent
// fields default to the empty string.
type MetadataResult struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	Subject      string `json:"subject"`
	Creator      string `json:"creator"`
	Producer     string `json:"producer"`
	CreationDate string `json:"creation_date"`
	ModDate      string `json:"mod_date"`
}

// StatisticsResult is the output of the statistics activity. A zero-page
// document yields all-zero values, never a failure.
type StatisticsResult struct {
	PageCount                   int     `json:"page_count"`
	WordCount                   int     `json:"word_count"`
	AvgWordsPerPage             float64 `json:"avg_words_per_page"`
	EstimatedReadingTimeMinutes float64 `json:"estimated_reading_time_minutes"`
}

// SensitiveResult is the output of the sensitive-data activity: de-duplicated,
// lexicographically sorted match lists per pattern class.
type SensitiveResult struct {
	Emails []string `json:"emails"`
	Phones []string `json:"phones"`
	URLs   []string `json:"urls"`
	Dates  []string `json:"dates"`
}

// EmptyTextResult returns the empty shape for a missing text section.
func EmptyTextResult() TextResult {
	return TextResult{Pages: []PageText{}, FullText: ""}
}

// EmptySensitiveResult returns the empty shape for a missing sensitive-data
// section.
func EmptySensitiveResult() SensitiveResult {
	return SensitiveResult{Emails: []string{}, Phones: []string{}, URLs: []string{}, Dates: []string{}}
}

// DocumentRef identifies one document: the shared input of every fan-out
// activity.
type DocumentRef struct {
	Container string `json:"container"`
	BlobName  string `json:"blob_name"`
}

// StartRequest is the body of an orchestration start. "name" is an accepted
// alias for "blob_name"; when both are present, blob_name wins. An empty
// container defaults to DefaultContainer.
type StartRequest struct {
	Container string `json:"container,omitempty"`
	BlobName  string `json:"blob_name,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Resolve normalizes the request into a DocumentRef.
func (r StartRequest) Resolve() DocumentRef {
	ref := DocumentRef{Container: r.Container, BlobName: r.BlobName}
	if ref.BlobName == "" {
		ref.BlobName = r.Name
	}
	if ref.Container == "" {
		ref.Container = DefaultContainer
	}
	return ref
}

// ReportInput is the input of the report-builder activity: the document ref
// plus the four recorded fan-out results. Nil sections are defaulted by the
// builder.
type ReportInput struct {
	Container     string            `json:"container"`
	BlobName      string            `json:"blob_name"`
	ExtractText   *TextResult       `json:"extract_text"`
	Metadata      *MetadataResult   `json:"extract_metadata"`
	Statistics    *StatisticsResult `json:"analyze_statistics"`
	SensitiveData *SensitiveResult  `json:"detect_sensitive_data"`
}

// StoreResult is the output of the persistence activity.
type StoreResult struct {
	PartitionKey string `json:"partition_key"`
	RowKey       string `json:"row_key"`
	Table        string `json:"table"`
}
