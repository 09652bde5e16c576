package main

import (
	"os"
	"reflect"
	"testing"
)

// TestParseKVParams tests the parseKVParams helper function.
func TestParseKVParams(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    map[string]any
		wantErr bool
	}{
		{
			name:  "empty",
			input: nil,
			want:  nil,
		},
		{
			name:  "single pair",
			input: []string{"commonCropName=sweetpotato"},
			want:  map[string]any{"commonCropName": "sweetpotato"},
		},
		{
			name:  "value with equals sign",
			input: []string{"expr=a=b"},
			want:  map[string]any{"expr": "a=b"},
		},
		{
			name:    "missing value separator",
			input:   []string{"justakey"},
			wantErr: true,
		},
		{
			name:    "empty key",
			input:   []string{"=value"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKVParams(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

// TestSplitColumns tests the splitColumns helper function.
func TestSplitColumns(t *testing.T) {
	got := splitColumns(" studyDbId, studyName ,,locationName")
	want := []string{"studyDbId", "studyName", "locationName"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestParseDays tests the parseDays helper function.
func TestParseDays(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"30d", 30, false},
		{"0d", 0, false},
		{"7", 0, true},
		{"-1d", 0, true},
		{"xd", 0, true},
	}

	for _, tt := range tests {
		got, err := parseDays(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseDays(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseDays(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDays(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

// TestCLICommands verifies every advertised subcommand is wired into the app.
func TestCLICommands(t *testing.T) {
	app := newCLIApp(nil)

	registered := make(map[string]bool)
	for _, cmd := range app.Commands {
		registered[cmd.Name] = true
	}

	for name := range cliCommands {
		if name == "help" {
			continue // built into urfave/cli
		}
		if !registered[name] {
			t.Errorf("subcommand %q in cliCommands but not registered", name)
		}
	}
	for name := range registered {
		if !cliCommands[name] {
			t.Errorf("registered command %q missing from cliCommands", name)
		}
	}
}

// TestIsCLIMode tests mode detection from os.Args.
func TestIsCLIMode(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()

	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"brapi-mcp"}, false},
		{[]string{"brapi-mcp", "capabilities"}, true},
		{[]string{"brapi-mcp", "get", "studies"}, true},
		{[]string{"brapi-mcp", "--help"}, true},
		{[]string{"brapi-mcp", "-v"}, true},
		{[]string{"brapi-mcp", "bogus"}, false},
	}

	for _, tt := range tests {
		os.Args = tt.args
		if got := isCLIMode(); got != tt.want {
			t.Errorf("isCLIMode(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}
}
