package document

import (
	"bytes"
	"strings"
)

var pdfMagic = []byte("%PDF-")

// Parse sniffs the document format and extracts pages and metadata. PDF
// documents are recognized by their magic prefix; everything else is treated
// as plain text with form feeds as page separators.
func Parse(data []byte) (*Parsed, error) {
	if bytes.HasPrefix(data, pdfMagic) {
		return parsePDF(data)
	}
	return parseText(data), nil
}

func parseText(data []byte) *Parsed {
	pages := strings.Split(string(data), "\f")
	return &Parsed{
		PageCount: len(pages),
		Pages:     pages,
	}
}
