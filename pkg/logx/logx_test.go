package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestApplySwapsLevelForExistingLoggers(t *testing.T) {
	var buf bytes.Buffer
	s := &Service{stdout: &buf}
	if err := s.Apply(Config{Level: "warn"}); err != nil {
		t.Fatal(err)
	}
	log := s.Logger().With(String("comp", "test"))

	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %s", buf.String())
	}

	if err := s.Apply(Config{Level: "debug"}); err != nil {
		t.Fatal(err)
	}
	log.Debug("visible", Int("n", 3), Err(errors.New("boom")), Err(nil))

	var ev map[string]any
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("not a JSON line: %q (%v)", buf.String(), err)
	}
	if ev["message"] != "visible" || ev["comp"] != "test" || ev["n"] != float64(3) || ev["err"] != "boom" {
		t.Fatalf("event=%v", ev)
	}
	if c, _ := ev["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller=%q", ev["caller"])
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	var buf bytes.Buffer
	s := &Service{stdout: &buf}
	if err := s.Apply(Config{File: FileConfig{Enabled: true, Path: path}}); err != nil {
		t.Fatal(err)
	}
	s.Logger().Info("to file")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"message":"to file"`) {
		t.Fatalf("file=%q", b)
	}
	if buf.Len() != 0 {
		t.Fatalf("stdout written while only the file sink is on: %q", buf.String())
	}
}

func TestValidLevel(t *testing.T) {
	for _, ok := range []string{"", "trace", "DEBUG", " info ", "warning", "error"} {
		if !ValidLevel(ok) {
			t.Fatalf("ValidLevel(%q)=false", ok)
		}
	}
	for _, bad := range []string{"loud", "fatal", "panic"} {
		if ValidLevel(bad) {
			t.Fatalf("ValidLevel(%q)=true", bad)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger not IsZero")
	}
	l.With(String("k", "v")).Error("dropped")
	if Nop().IsZero() {
		t.Fatalf("Nop reports IsZero")
	}
}
