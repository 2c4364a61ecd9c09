// Package parser turns uploaded statement bytes (CSV, XLS, XLSX) into
// header-keyed rows plus a best-guess source identification. It is a pure
// transformation: no I/O beyond the bytes it is handed.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/tunelodge/royaltydesk/internal/domain/ingest/detector"
)

var (
	ErrEmptyFile         = errors.New("file contains no data rows")
	ErrUnreadableFile    = errors.New("file could not be read")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Row is one data row keyed by header name.
type Row map[string]string

// ParseResult is the output of parsing one uploaded statement file.
type ParseResult struct {
	Headers        []string
	Data           []Row
	SheetName      string
	DetectedSource detector.SheetType
	Confidence     float64
}

// delimiter candidates in tie-break order
var delimiters = []rune{',', ';', '\t', '|'}

// ParseStatement parses the raw bytes of an uploaded file. The file name
// supplies both the format (by extension) and a detection hint.
func ParseStatement(fileName string, content []byte) (*ParseResult, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, ErrEmptyFile
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	var (
		headers   []string
		records   [][]string
		sheetName string
		err       error
	)

	switch ext {
	case ".csv", ".tsv", ".txt":
		headers, records, err = parseCSV(content)
		sheetName = fileName
	case ".xls":
		headers, records, sheetName, err = parseLegacyXLS(content)
	case ".xlsx", ".xlsm":
		headers, records, sheetName, err = parseExcel(content)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	data := make([]Row, 0, len(records))
	for _, record := range records {
		row := make(Row, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = strings.TrimSpace(record[i])
			} else {
				row[h] = ""
			}
		}
		data = append(data, row)
	}

	nameHint := strings.TrimSpace(fileName + " " + sheetName)
	return &ParseResult{
		Headers:        headers,
		Data:           data,
		SheetName:      sheetName,
		DetectedSource: detector.DetectSheetType(nameHint, headers),
		Confidence:     detector.Confidence(nameHint, headers),
	}, nil
}

func parseCSV(content []byte) ([]string, [][]string, error) {
	delimiter := detectDelimiter(content)

	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
		if isBlankRecord(record) {
			continue
		}
		records = append(records, record)
	}
	return headers, records, nil
}

func parseExcel(content []byte) ([]string, [][]string, string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, "", ErrEmptyFile
	}
	sheetName := sheets[0]

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	if len(rows) == 0 {
		return nil, nil, sheetName, ErrEmptyFile
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	var records [][]string
	for _, row := range rows[1:] {
		if isBlankRecord(row) {
			continue
		}
		records = append(records, row)
	}
	return headers, records, sheetName, nil
}

// legacyXLSRowCap bounds BIFF workbook reads; the format tops out at 65536 rows.
const legacyXLSRowCap = 65536

// parseLegacyXLS reads pre-2007 BIFF workbooks, which excelize cannot open.
func parseLegacyXLS(content []byte) ([]string, [][]string, string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(content), "utf-8")
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}

	sheetName := ""
	if sheet := wb.GetSheet(0); sheet != nil {
		sheetName = sheet.Name
	}

	cells := wb.ReadAllCells(legacyXLSRowCap)
	if len(cells) == 0 {
		return nil, nil, sheetName, ErrEmptyFile
	}

	headers := make([]string, len(cells[0]))
	for i, h := range cells[0] {
		headers[i] = strings.TrimSpace(h)
	}

	var records [][]string
	for _, row := range cells[1:] {
		if isBlankRecord(row) {
			continue
		}
		records = append(records, row)
	}
	return headers, records, sheetName, nil
}

// detectDelimiter picks the delimiter with the highest count in the header
// line; ties resolve in fixed candidate order for determinism.
func detectDelimiter(content []byte) rune {
	headerLine := string(content)
	if idx := bytes.IndexByte(content, '\n'); idx >= 0 {
		headerLine = string(content[:idx])
	}

	best := delimiters[0]
	bestCount := 0
	for _, d := range delimiters {
		if count := strings.Count(headerLine, string(d)); count > bestCount {
			best = d
			bestCount = count
		}
	}
	return best
}

func isBlankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
