package importer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

var (
	// ErrEmptyFile is returned when the upload carries no bytes.
	ErrEmptyFile = errors.New("importer: file is empty")
	// ErrMissingHeader is returned when the file has no header row.
	ErrMissingHeader = errors.New("importer: missing header row")
	// ErrInvalidEncoding is returned when the file is not UTF-8.
	ErrInvalidEncoding = errors.New("importer: file is not valid UTF-8")
)

const encodingProbeSize = 4096

// record is one data row keyed by header name. Line is the 1-based file line, header included.
type record struct {
	Line   int
	Fields map[string]string
}

// readRecords parses a header row followed by data rows. Rows whose field count differs
// from the header are dropped and counted in skipped.
func readRecords(r io.Reader) (records []record, skipped int, err error) {
	buffered := bufio.NewReader(r)
	bom, err := buffered.Peek(3)
	if err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("importer: read file: %w", err)
	}
	if len(bom) == 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		_, _ = buffered.Discard(3)
	}
	probe, err := buffered.Peek(encodingProbeSize)
	if err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("importer: read file: %w", err)
	}
	if len(probe) == 0 {
		return nil, 0, ErrEmptyFile
	}
	if len(probe) == encodingProbeSize {
		probe = trimPartialRune(probe)
	}
	if !utf8.Valid(probe) {
		return nil, 0, ErrInvalidEncoding
	}

	reader := csv.NewReader(buffered)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, ErrMissingHeader
	}
	if err != nil {
		return nil, 0, fmt.Errorf("importer: read header: %w", err)
	}
	columns := make([]string, len(header))
	for index, name := range header {
		columns[index] = strings.TrimSpace(name)
	}

	line := 1
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, skipped, fmt.Errorf("importer: read row %d: %w", line, err)
		}
		if len(fields) != len(columns) {
			skipped++
			continue
		}
		values := make(map[string]string, len(columns))
		empty := true
		for index, column := range columns {
			value := strings.TrimSpace(fields[index])
			if value != "" {
				empty = false
			}
			values[column] = value
		}
		if empty {
			continue
		}
		records = append(records, record{Line: line, Fields: values})
	}
	return records, skipped, nil
}

// trimPartialRune drops a rune cut off by the probe boundary.
func trimPartialRune(probe []byte) []byte {
	for cut := 0; cut < utf8.UTFMax && cut < len(probe); cut++ {
		if utf8.Valid(probe[:len(probe)-cut]) {
			return probe[:len(probe)-cut]
		}
	}
	return probe
}
