// Package dataset implements format-aware record counting for uploaded
// training corpora. The count is deterministic per format, so the stored
// sample count always matches what the training engine will see.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"

	"github.com/tunekit/tunekit-api/internal/apperr"
	"github.com/tunekit/tunekit-api/internal/models"
)

// DetectFormat infers a dataset format from a file name, falling back to
// jsonl when the extension is unknown.
func DetectFormat(filename string) models.DatasetFormat {
	switch strings.ToLower(strings.TrimPrefix(ext(filename), ".")) {
	case "json":
		return models.DatasetFormatJSON
	case "csv":
		return models.DatasetFormatCSV
	default:
		return models.DatasetFormatJSONL
	}
}

func ext(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[i:]
	}
	return ""
}

// CountSamples parses content according to the declared format and returns
// the number of training records.
//
//   - json: length of the top-level array
//   - jsonl: non-blank lines, each of which must be a valid JSON document
//   - csv: data rows, excluding the header line
func CountSamples(format models.DatasetFormat, r io.Reader) (int, error) {
	switch format {
	case models.DatasetFormatJSON:
		return countJSON(r)
	case models.DatasetFormatJSONL:
		return countJSONL(r)
	case models.DatasetFormatCSV:
		return countCSV(r)
	default:
		return 0, apperr.InvalidInput("unsupported dataset format %q", format)
	}
}

func countJSON(r io.Reader) (int, error) {
	var records []json.RawMessage
	dec := json.NewDecoder(r)
	if err := dec.Decode(&records); err != nil {
		return 0, apperr.InvalidInput("dataset is not a JSON array: %v", err)
	}
	return len(records), nil
}

func countJSONL(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	count := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			return 0, apperr.InvalidInput("dataset line %d is not valid JSON", line)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, apperr.InvalidInput("failed to read dataset: %v", err)
	}
	return count, nil
}

func countCSV(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	count := 0
	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, apperr.InvalidInput("malformed CSV: %v", err)
		}
		count++
	}
	if count == 0 {
		return 0, nil
	}
	// First row is the header.
	return count - 1, nil
}
