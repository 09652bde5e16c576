package cache

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cropbase/brapi-mcp/internal/brapi"
)

// Format identifies the durable encoding of a cached result.
type Format string

const (
	FormatCSV   Format = "csv"   // delimited text
	FormatJSONL Format = "jsonl" // line-oriented JSON records
	// FormatParquet is recognized in requests but not implemented; the
	// cache rejects it with an UNSUPPORTED_FORMAT error.
	FormatParquet Format = "parquet"
)

// SupportedFormats lists the formats the cache can actually write.
func SupportedFormats() []string {
	return []string{string(FormatCSV), string(FormatJSONL)}
}

// encodeCSV writes records as delimited text with a fixed column order.
// Scalar cells are stringified; nested objects and lists are JSON-encoded
// so no information is dropped.
func encodeCSV(w io.Writer, records []brapi.Record, columns []string) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(columns); err != nil {
		return err
	}

	row := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			row[i] = cellString(rec[col])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(encoded)
	default:
		return fmt.Sprint(val)
	}
}

// decodeCSV reads delimited text back into records. All cell values come
// back as strings; the header row supplies the column order.
func decodeCSV(r io.Reader) ([]brapi.Record, []string, error) {
	cr := csv.NewReader(r)

	columns, err := cr.Read()
	if err == io.EOF {
		return []brapi.Record{}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var records []brapi.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}

		rec := make(brapi.Record, len(columns))
		for i, col := range columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records, columns, nil
}

// encodeJSONL writes one JSON object per line.
func encodeJSONL(w io.Writer, records []brapi.Record) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// decodeJSONL reads line-oriented JSON records.
func decodeJSONL(r io.Reader) ([]brapi.Record, error) {
	var records []brapi.Record
	dec := json.NewDecoder(r)
	for {
		var rec brapi.Record
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
