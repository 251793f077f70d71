package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"market-stream/src/models"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		Configure("info", "text")
	})
	return &buf
}

func TestNewLoggerAppliesConfigLevel(t *testing.T) {
	buf := capture(t)

	log := NewLogger(&models.MConfig{LogLevel: "warning", LogFormat: "json"}, "Hub")
	log.Info("hidden")
	log.Warning("client %s too slow", "c1")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warning level: %s", out)
	}
	var line map[string]interface{}
	if err := json.Unmarshal([]byte(out), &line); err != nil {
		t.Fatalf("expected one json line, got %q: %v", out, err)
	}
	if line["component"] != "Hub" || line["msg"] != "client c1 too slow" {
		t.Fatalf("line = %v", line)
	}
}

func TestNewLoggerWithoutConfigKeepsSettings(t *testing.T) {
	buf := capture(t)
	Configure("debug", "text")

	NewLogger(nil, "Probe").Debug("tick")
	NewLogger(&models.MConfig{}, "Janitor").Debug("tock")

	out := buf.String()
	if !strings.Contains(out, "tick") || !strings.Contains(out, "tock") {
		t.Fatalf("debug lines missing: %q", out)
	}
}
