package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/chainbound/vixy/pkg/config"
)

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(config.LogConfig{Level: "info", Format: "json"}, &buf); err != nil {
		t.Fatal(err)
	}

	slog.Info("hello", "node", "p1")
	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) || !strings.Contains(out, `"node":"p1"`) {
		t.Errorf("unexpected JSON output: %s", out)
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(config.LogConfig{Level: "warn", Format: "text"}, &buf); err != nil {
		t.Fatal(err)
	}

	slog.Info("quiet")
	slog.Warn("loud")
	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(out, "loud") {
		t.Error("warn line missing")
	}
}

func TestSetup_InvalidValues(t *testing.T) {
	if err := Setup(config.LogConfig{Level: "chatty", Format: "json"}, nil); err == nil {
		t.Error("expected error for invalid level")
	}
	if err := Setup(config.LogConfig{Level: "info", Format: "xml"}, nil); err == nil {
		t.Error("expected error for invalid format")
	}
}
