package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet is a parsed spreadsheet: one header row and data rows padded or
// truncated to the header width.
type Sheet struct {
	Headers []string
	Rows    [][]string

	// Source names where the data came from, for the load metadata.
	Source string
}

// ReadFile parses path as CSV or XLSX based on its extension.
func ReadFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var s *Sheet
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		s, err = ReadCSV(f)
	case ".xlsx", ".xlsm":
		s, err = ReadXLSX(f)
	default:
		return nil, fmt.Errorf("unsupported spreadsheet format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	s.Source = filepath.Base(path)
	return s, nil
}

// ReadCSV parses CSV data. A UTF-8 byte order mark is dropped and records
// with a different field count are fitted to the header.
func ReadCSV(r io.Reader) (*Sheet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return fromRecords(records)
}

// ReadXLSX parses the first worksheet of an XLSX workbook.
func ReadXLSX(r io.Reader) (*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return fromRecords(records)
}

func fromRecords(records [][]string) (*Sheet, error) {
	// skip leading blank lines
	for len(records) > 0 && blank(records[0]) {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("spreadsheet has no header row")
	}

	s := &Sheet{Headers: records[0], Rows: make([][]string, 0, len(records)-1)}
	width := len(s.Headers)
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		row := make([]string, width)
		copy(row, rec)
		s.Rows = append(s.Rows, row)
	}
	return s, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
