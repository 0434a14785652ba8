package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	return out
}

func TestSetupWriterHonoursLevel(t *testing.T) {
	logger = nil
	once = sync.Once{}

	var buf bytes.Buffer
	SetupWriter("WARN", &buf)

	Get().Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected INFO to be filtered, got %q", buf.String())
	}
	Get().Warn("kept")
	out := decodeLine(t, &buf)
	if out["msg"] != "kept" {
		t.Errorf("Expected msg 'kept', got %v", out["msg"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("dispatch").Info("hello")

	out := decodeLine(t, &buf)
	if out["component"] != "dispatch" {
		t.Errorf("Expected component 'dispatch', got %v", out["component"])
	}
}

func TestWithWorker(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithWorker("hash").Info("worker msg")

	out := decodeLine(t, &buf)
	if out["worker"] != "hash" {
		t.Errorf("Expected worker 'hash', got %v", out["worker"])
	}
}

func TestWithElement(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithElement("vertex", "v1").Info("element msg")

	out := decodeLine(t, &buf)
	if out["element_kind"] != "vertex" || out["element_id"] != "v1" {
		t.Errorf("unexpected element fields: %v", out)
	}
}
