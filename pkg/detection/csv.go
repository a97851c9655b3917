package detection

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"
)

// CSVHeader is the column set the bulk upload endpoint requires.
var CSVHeader = []string{"name", "logic", "description"}

// SampleFilename is the download name of the sample CSV.
const SampleFilename = "sample_detections.csv"

var sampleRows = []Input{
	{Name: "Detection A", Logic: "logic for A", Description: "Description for Detection A"},
	{Name: "Detection B", Logic: "logic for B", Description: "Description for Detection B"},
}

// CSVError collects the problems a pre-flight check found, one message per
// line in the same wording the upload endpoint uses.
type CSVError struct {
	Messages []string
}

func (e *CSVError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// WriteSampleCSV writes the two-row example file offered to operators.
func WriteSampleCSV(w io.Writer) error {
	return WriteCSV(w, sampleRows)
}

// WriteCSV writes rows in upload format. Only name, logic and description are
// carried; the upload endpoint ignores other columns.
func WriteCSV(w io.Writer, rows []Input) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, r := range rows {
		if err := cw.Write([]string{r.Name, r.Logic, r.Description}); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ValidateCSV runs the upload endpoint's checks locally and returns the number
// of rows that would be created. It is a pre-flight aid only; the remote
// parser stays authoritative and uploads never call it.
func ValidateCSV(filename string, r io.Reader) (int, error) {
	if !strings.HasSuffix(filename, ".csv") {
		return 0, &CSVError{Messages: []string{"File must be a CSV."}}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", filename, err)
	}
	if !utf8.Valid(data) {
		return 0, &CSVError{Messages: []string{"File encoding not supported. Please upload a UTF-8 encoded CSV."}}
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		header = nil
	} else if err != nil {
		return 0, &CSVError{Messages: []string{"Invalid CSV format."}}
	}

	// A repeated header name resolves to its last column, as the server reads it.
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}
	var missing []string
	for _, col := range CSVHeader {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return 0, &CSVError{Messages: []string{"Missing columns: " + strings.Join(missing, ", ")}}
	}

	var (
		msgs  []string
		valid int
		row   = 1
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, &CSVError{Messages: []string{"Invalid CSV format."}}
		}
		row++

		cell := func(col string) string {
			i := index[col]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		if cell("name") == "" || cell("logic") == "" || cell("description") == "" {
			msgs = append(msgs, fmt.Sprintf("Row %d: 'name', 'logic', and 'description' are required.", row))
			continue
		}
		valid++
	}

	if len(msgs) > 0 {
		return 0, &CSVError{Messages: msgs}
	}
	return valid, nil
}
