package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(&buf, Options{Level: "info", Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("room created", "doc", "d1")

	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (line %q)", err, buf.String())
	}
	if m["msg"] != "room created" || m["doc"] != "d1" {
		t.Errorf("record: got %v", m)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, lv, err := New(&buf, Options{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info at warn level should be filtered, got %q", buf.String())
	}

	if err := SetLevel(lv, "debug"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	logger.Debug("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("debug after SetLevel(debug) should be written, got %q", buf.String())
	}
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, _, err := New(&bytes.Buffer{}, Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format, got nil")
	}
}

func TestSetLevel_Invalid(t *testing.T) {
	if err := SetLevel(new(slog.LevelVar), "loud"); err == nil {
		t.Fatal("expected error for unknown level, got nil")
	}
}

func TestConsoleHandler_Line(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger, _, err := New(&buf, Options{Level: "debug", Format: "console"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.With("conn", "c1").WithGroup("frame").Warn("dropped frame", "type", "bogus", "reason", "no listener")

	line := buf.String()
	for _, want := range []string{"WARN", "dropped frame", "conn=c1", "frame.type=bogus", `frame.reason="no listener"`} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}
