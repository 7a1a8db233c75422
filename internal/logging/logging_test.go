package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"nodesentinel/internal/faults"
)

func TestFailureCarriesKindAndSource(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "debug"}, &buf)

	Failure(logger, faults.Parse("top", errors.New("no Cpu(s) line"))).Msg("degraded sample")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["level"] != "warn" || entry["kind"] != "parse" || entry["source"] != "top" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "chatty"}, &buf)
	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatal("debug must be filtered at info level")
	}
}
