// Package document retrieves raw documents from blob storage and parses
// them into pages and descriptive metadata for the analysis activities.
package document

// Metadata carries the descriptive fields a document format may declare.
// Absent values stay empty strings.
type Metadata struct {
	Title        string
	Author       string
	Subject      string
	Creator      string
	Producer     string
	CreationDate string
	ModDate      string
}

// Parsed is a format-independent view of a fetched document. Pages always
// holds PageCount entries; entries may be empty when the format carries no
// extractable text for a page.
type Parsed struct {
	PageCount int
	Pages     []string
	Meta      Metadata
}
