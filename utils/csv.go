package utils

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"mailprobe/verifier"
)

// ExtractAddresses returns every trimmed CSV cell that passes filter, in file
// order. Rows may have any number of fields; cells failing the filter are skipped.
func ExtractAddresses(r io.Reader, filter verifier.SyntaxFilter) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var addresses []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return addresses, err
		}
		for _, cell := range record {
			cell = strings.TrimSpace(cell)
			if cell != "" && filter(cell) {
				addresses = append(addresses, cell)
			}
		}
	}
	return addresses, nil
}

// SplitLines returns the non-blank trimmed lines of a textarea submission.
// Lines are not syntax-filtered; invalid ones get an Invalid format result.
func SplitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// WriteResultsCSV writes the Email,Status export.
func WriteResultsCSV(w io.Writer, results []verifier.Result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Email", "Status"}); err != nil {
		return err
	}
	for _, result := range results {
		if err := writer.Write([]string{result.Address, result.Category}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
