package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestInitWritesJSONToConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nested", "split.log")
	var console bytes.Buffer

	if err := Init(Options{Level: "debug", File: file, MaxSizeMB: 1, Console: &console}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	log.Info().Str("file", "in.pdf").Int("jobs", 3).Msg("plan ready")

	var ev map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(console.Bytes()), &ev); err != nil {
		t.Fatalf("console output is not JSON: %v (%q)", err, console.String())
	}
	if ev["service"] != service || ev["message"] != "plan ready" || ev["jobs"] != float64(3) {
		t.Fatalf("unexpected event %v", ev)
	}
	b, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"plan ready"`) {
		t.Fatalf("log file missing event: %q", b)
	}
}

func TestInitFallsBackToInfo(t *testing.T) {
	var console bytes.Buffer
	if err := Init(Options{Level: "loud", Console: &console}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	if strings.Contains(console.String(), "hidden") || !strings.Contains(console.String(), "shown") {
		t.Fatalf("unexpected output %q", console.String())
	}
}
