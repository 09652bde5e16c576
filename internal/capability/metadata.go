package capability

import (
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

//go:embed data/metadata.csv
var metadataFS embed.FS

// TableEntry is the local reference record for one known endpoint path.
type TableEntry struct {
	Category    string
	Description string
	Parameters  map[string]ParamSpec
}

// Table maps known endpoint paths to their local reference metadata.
// Server-reported calls absent from the table are not exposed to callers.
type Table map[string]TableEntry

// LoadTable parses the embedded endpoint metadata table.
func LoadTable() (Table, error) {
	f, err := metadataFS.Open("data/metadata.csv")
	if err != nil {
		return nil, fmt.Errorf("open metadata table: %w", err)
	}
	defer f.Close()
	return parseTable(f)
}

// parseTable reads a CSV with columns: service, category, description, params.
// The params column is a space-separated list of name=type pairs; a trailing
// "*" on the name marks the parameter required.
func parseTable(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read metadata header: %w", err)
	}
	if len(header) != 4 || header[0] != "service" {
		return nil, fmt.Errorf("unexpected metadata header: %v", header)
	}

	table := make(Table)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read metadata row: %w", err)
		}

		service := clean(row[0])
		if service == "" {
			continue
		}
		table[service] = TableEntry{
			Category:    strings.ToLower(strings.TrimSpace(row[1])),
			Description: strings.TrimSpace(row[2]),
			Parameters:  parseParams(row[3]),
		}
	}
	return table, nil
}

// parseParams parses "studyDbId=string locationDbIds=array page=integer".
func parseParams(raw string) map[string]ParamSpec {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}

	params := make(map[string]ParamSpec, len(fields))
	for _, field := range fields {
		name, typ, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			continue
		}
		required := strings.HasSuffix(name, "*")
		name = strings.TrimSuffix(name, "*")
		params[name] = ParamSpec{Type: typ, Required: required}
	}
	return params
}
