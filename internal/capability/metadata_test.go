package capability

import (
	"strings"
	"testing"
)

func TestLoadTable(t *testing.T) {
	table, err := LoadTable()
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}
	if len(table) == 0 {
		t.Fatal("embedded metadata table is empty")
	}

	studies, ok := table["studies"]
	if !ok {
		t.Fatal("table should contain studies")
	}
	if studies.Category != "core" {
		t.Errorf("studies category = %q, want core", studies.Category)
	}
	if studies.Description == "" {
		t.Error("studies description should not be empty")
	}
	if _, ok := studies.Parameters["studyDbId"]; !ok {
		t.Error("studies should declare a studyDbId parameter")
	}

	// Every two-phase search family must carry both the submit endpoint
	// and its results variant.
	for path := range table {
		rest, ok := strings.CutPrefix(path, "search/")
		if !ok || strings.Contains(rest, "/") {
			continue
		}
		if _, ok := table[path+"/{searchResultsDbId}"]; !ok {
			t.Errorf("%s has no matching results endpoint in the table", path)
		}
	}
}

func TestParseTable_RejectsBadHeader(t *testing.T) {
	_, err := parseTable(strings.NewReader("nope,category,description,params\n"))
	if err == nil {
		t.Fatal("parseTable should reject an unexpected header")
	}
}

func TestParseParams(t *testing.T) {
	params := parseParams("studyDbId=string* locationDbIds=array page=integer")

	if len(params) != 3 {
		t.Fatalf("parseParams returned %d entries, want 3", len(params))
	}
	if !params["studyDbId"].Required {
		t.Error("studyDbId should be required (trailing *)")
	}
	if params["locationDbIds"].Type != "array" {
		t.Errorf("locationDbIds type = %q, want array", params["locationDbIds"].Type)
	}
	if params["page"].Required {
		t.Error("page should not be required")
	}

	if parseParams("") != nil {
		t.Error("empty params column should yield nil")
	}
}
