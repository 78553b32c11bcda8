package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept", "line_id", "cajero1")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record should be filtered: %s", out)
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", out, err)
	}
	if record["msg"] != "kept" || record["line_id"] != "cajero1" {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestWithContextAddsIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Format: "text"}, &buf)

	ctx := WithConnID(WithRequestID(context.Background(), "req-1"), "conn-9")
	logger.WithContext(ctx).Info("hello")

	out := buf.String()
	if !strings.Contains(out, "request_id=req-1") || !strings.Contains(out, "conn_id=conn-9") {
		t.Fatalf("missing context fields: %s", out)
	}
}

func TestFromContext(t *testing.T) {
	logger := Nop()
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("FromContext should return the stored logger")
	}
}
