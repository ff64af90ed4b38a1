// Package detect infers the field separator and header names of a
// delimited text file from a small sample of its content.
package detect

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strings"
)

// DefaultDelimiter is returned whenever no candidate wins the sample count.
const DefaultDelimiter = ','

// candidates are the delimiters considered, in tie-break order.
var candidates = []rune{',', ';', '\t', '|'}

// sampleLines is how many non-empty lines are inspected.
const sampleLines = 5

// Delimiter infers the field separator by counting candidate occurrences
// across up to five non-empty lines. The candidate with the highest
// strictly-positive total wins; ties and all-zero counts fall back to the
// comma. Read errors also fall back to the comma - detection is
// best-effort and never fails.
func Delimiter(r io.Reader) rune {
	counts := make(map[rune]int, len(candidates))

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	seen := 0
	for scanner.Scan() && seen < sampleLines {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		seen++
		for _, c := range candidates {
			counts[c] += strings.Count(line, string(c))
		}
	}

	best := DefaultDelimiter
	bestCount := 0
	for _, c := range candidates {
		if counts[c] > bestCount {
			best = c
			bestCount = counts[c]
		}
	}
	return best
}

// Header reads the first row using the given delimiter and returns the
// trimmed header names.
func Header(r io.Reader, delim rune) ([]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1

	row, err := cr.Read()
	if err != nil {
		return nil, err
	}

	headers := make([]string, len(row))
	for i, h := range row {
		headers[i] = strings.TrimSpace(h)
	}
	return headers, nil
}

// File opens the file at path and returns its delimiter and header names.
// An unreadable file yields the default delimiter and no headers without
// an error; the caller treats that as a fallback, not a hard failure.
func File(path string) (rune, []string) {
	f, err := os.Open(path)
	if err != nil {
		return DefaultDelimiter, nil
	}
	defer f.Close()

	delim := Delimiter(f)

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return delim, nil
	}
	headers, err := Header(f, delim)
	if err != nil {
		return delim, nil
	}
	return delim, headers
}
