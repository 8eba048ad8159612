package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("warn", "json", &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Int64("user_id", 7).Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above the level, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if entry["message"] != "shown" || entry["level"] != "warn" || entry["user_id"] != float64(7) {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "debug",
		"WARNING": "warn",
		"error":   "error",
		"bogus":   "info",
		"":        "info",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
