// Package importer loads exported trip reports (CSV or XLSX) into storage.
package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/model"
)

// Parser turns a report file into raw rows keyed by column header.
type Parser interface {
	Parse(r io.Reader) ([]model.RawTrip, error)
}

// ParserFor picks a parser by file extension.
func ParserFor(filename string) (Parser, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return CSVParser{Comma: ';'}, nil
	case ".xlsx":
		return XLSXParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVParser reads delimited text exports. Portal exports use ';'.
type CSVParser struct {
	Comma rune
}

// Parse implements Parser.
func (p CSVParser) Parse(r io.Reader) ([]model.RawTrip, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	if p.Comma != 0 {
		reader.Comma = p.Comma
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}
		records = append(records, record)
	}
	return rowsFromRecords(records), nil
}

// XLSXParser reads the first worksheet of a spreadsheet export.
type XLSXParser struct{}

// Parse implements Parser.
func (XLSXParser) Parse(r io.Reader) ([]model.RawTrip, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return rowsFromRecords(records), nil
}

// rowsFromRecords treats the first non-blank record as the header row and maps
// each following non-blank record onto it. Cells beyond the header are ignored.
func rowsFromRecords(records [][]string) []model.RawTrip {
	var header []string
	var rows []model.RawTrip
	for _, record := range records {
		if blank(record) {
			continue
		}
		if header == nil {
			header = make([]string, len(record))
			for i, h := range record {
				header[i] = strings.TrimSpace(h)
			}
			continue
		}

		row := make(model.RawTrip, len(header))
		for i, name := range header {
			if name == "" || i >= len(record) {
				continue
			}
			row[name] = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
	}
	return rows
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
