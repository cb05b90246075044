// Package csvparser turns a recipient list into email jobs for bulk enqueue.
package csvparser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxRows bounds a single import when the caller passes no limit.
const DefaultMaxRows = 1000

var (
	ErrNoEmailColumn = errors.New("csvparser: header has no Email column")
	ErrNoRows        = errors.New("csvparser: no usable rows")
)

// Recipient is one data row. Fields holds every other column by header name
// and is what the templates see.
type Recipient struct {
	Email  string
	Fields map[string]string
	// Line is the 1-based CSV line, for error messages.
	Line int
}

// ParseRecipients reads a header row followed by up to maxRows recipients.
// Rows with the wrong column count or an empty Email cell are skipped.
func ParseRecipients(r io.Reader, maxRows int) ([]Recipient, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("csvparser: header: %w", err)
	}

	columns := make([]string, len(header))
	emailCol := -1
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
		if emailCol == -1 && strings.EqualFold(columns[i], "email") {
			emailCol = i
		}
	}
	if emailCol == -1 {
		return nil, ErrNoEmailColumn
	}

	var out []Recipient
	for len(out) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvparser: %w", err)
		}
		line, _ := reader.FieldPos(0)

		if len(record) != len(columns) {
			continue
		}
		addr := strings.TrimSpace(record[emailCol])
		if addr == "" {
			continue
		}

		fields := make(map[string]string, len(columns)-1)
		for i, name := range columns {
			if i == emailCol || name == "" {
				continue
			}
			fields[name] = strings.TrimSpace(record[i])
		}
		out = append(out, Recipient{Email: addr, Fields: fields, Line: line})
	}

	if len(out) == 0 {
		return nil, ErrNoRows
	}
	return out, nil
}
