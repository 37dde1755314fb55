// Package ingest turns uploaded spreadsheets into header-keyed rows.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyTable        = errors.New("file has no data rows")
)

// Table is a parsed sheet. Rows are keyed by the header text as written.
type Table struct {
	Headers []string
	Rows    []map[string]string
}

// ReadTable parses .xlsx (first sheet) and .csv uploads.
func ReadTable(filename string, reader io.Reader) (*Table, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		records, err = readXLSX(reader)
	case ".csv":
		records, err = readCSV(reader)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
	if err != nil {
		return nil, err
	}
	return buildTable(records)
}

func readXLSX(reader io.Reader) ([][]string, error) {
	book, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		_ = book.Close()
	}()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyTable
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(reader io.Reader) ([][]string, error) {
	parser := csv.NewReader(reader)
	parser.FieldsPerRecord = -1
	parser.TrimLeadingSpace = true
	records, err := parser.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

func buildTable(records [][]string) (*Table, error) {
	if len(records) < 2 {
		return nil, ErrEmptyTable
	}

	headers := make([]string, len(records[0]))
	for i, header := range records[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	}

	table := &Table{Headers: headers, Rows: make([]map[string]string, 0, len(records)-1)}
	for _, record := range records[1:] {
		row := make(map[string]string, len(headers))
		blank := true
		for i, header := range headers {
			if header == "" || i >= len(record) {
				continue
			}
			value := strings.TrimSpace(record[i])
			if value != "" {
				blank = false
			}
			row[header] = value
		}
		if !blank {
			table.Rows = append(table.Rows, row)
		}
	}
	if len(table.Rows) == 0 {
		return nil, ErrEmptyTable
	}
	return table, nil
}

// FindColumnKey matches name against headers ignoring case and surrounding
// space, then ignoring everything but letters.
func FindColumnKey(headers []string, name string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, header := range headers {
		if strings.ToLower(strings.TrimSpace(header)) == want {
			return header, true
		}
	}
	wantAlpha := alphaOnly(name)
	if wantAlpha == "" {
		return "", false
	}
	for _, header := range headers {
		if alphaOnly(header) == wantAlpha {
			return header, true
		}
	}
	return "", false
}

// MissingColumns lists the required names FindColumnKey cannot resolve.
func MissingColumns(headers []string, required ...string) []string {
	missing := make([]string, 0)
	for _, name := range required {
		if _, ok := FindColumnKey(headers, name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func alphaOnly(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return -1
		}
	}, s)
}
