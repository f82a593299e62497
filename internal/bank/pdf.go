package bank

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfLines returns the text rows of a receipt PDF, top to bottom.
func pdfLines(body []byte) (lines []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf library crashed: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("opening receipt pdf: %w", err)
	}

	numPages := r.NumPage()
	if numPages == 0 {
		return nil, errors.New("receipt pdf has no pages")
	}

	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, rowErr := page.GetTextByRow()
		if rowErr != nil {
			continue
		}
		for _, row := range rows {
			parts := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				parts = append(parts, word.S)
			}
			if line := strings.Join(strings.Fields(strings.Join(parts, " ")), " "); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines, nil
}
