// Package extract pulls plain text out of study documents.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxPDFPages is the number of leading pages read from a PDF.
const MaxPDFPages = 10

var ErrEmptyDocument = errors.New("extract: document is empty")

// PDF returns the plain text of the first maxPages pages of data, joined by
// newlines. Pages without a text layer contribute nothing.
func PDF(data []byte, maxPages int) (text string, err error) {
	if len(data) == 0 {
		return "", ErrEmptyDocument
	}
	if maxPages <= 0 {
		maxPages = MaxPDFPages
	}
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("extract: malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("extract: open pdf: %w", err)
	}
	n := min(r.NumPage(), maxPages)
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		s, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract: page %d: %w", i, err)
		}
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n"), nil
}
