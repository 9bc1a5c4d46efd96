package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func capture(t *testing.T, format string, level Level, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	SetFormat(format)
	defer func() {
		SetFormat("text")
		SetLevel(LevelInfo)
		SetOutput(nil)
	}()
	fn()
	return buf.String()
}

func TestTextFormat(t *testing.T) {
	out := capture(t, "text", LevelInfo, func() {
		Info("migrating %d tables", 3)
	})
	if !strings.Contains(out, "[INFO]") {
		t.Errorf("expected [INFO] in text output: %s", out)
	}
	if !strings.Contains(out, "migrating 3 tables") {
		t.Errorf("expected formatted message in output: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	out := capture(t, "json", LevelInfo, func() {
		Warn("slow page")
	})

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("invalid JSON output: %v\noutput: %s", err, out)
	}
	if entry["level"] != "warn" {
		t.Errorf("expected level=warn, got %v", entry["level"])
	}
	if entry["msg"] != "slow page" {
		t.Errorf("expected msg='slow page', got %v", entry["msg"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("missing ts field")
	}
}

func TestLevelFiltering(t *testing.T) {
	out := capture(t, "text", LevelWarn, func() {
		Debug("hidden")
		Info("also hidden")
		Error("visible")
	})
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below level leaked: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("error message missing: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"Info", LevelInfo, false},
		{"", LevelInfo, true},
		{"trace", LevelInfo, true},
		{" info", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseLevel(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	if got := LevelDebug.String(); got != "DEBUG" {
		t.Errorf("LevelDebug.String() = %q", got)
	}
	if got := Level(42).String(); got != "UNKNOWN" {
		t.Errorf("Level(42).String() = %q", got)
	}
}

func TestIsDebug(t *testing.T) {
	original := GetLevel()
	defer SetLevel(original)

	SetLevel(LevelDebug)
	if !IsDebug() {
		t.Error("IsDebug() = false at debug level")
	}
	SetLevel(LevelInfo)
	if IsDebug() {
		t.Error("IsDebug() = true at info level")
	}
}
