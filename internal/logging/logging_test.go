package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureStderr(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := stderr
	stderr = buf
	t.Cleanup(func() {
		Shutdown()
		stderr = prev
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		mu.Lock()
		baseLogger = zerolog.New(stderr).With().Timestamp().Logger()
		log.Logger = baseLogger
		mu.Unlock()
	})
	return buf
}

func TestInitJSONSetsLevelAndComponent(t *testing.T) {
	buf := captureStderr(t)

	logger := Init(Config{Format: "json", Level: "debug", Component: "uma-sync"})
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", zerolog.GlobalLevel())
	}

	logger.Debug().Str("domain", "disks").Msg("hello")

	var event map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &event); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", buf.String(), err)
	}
	if event["component"] != "uma-sync" || event["domain"] != "disks" || event["message"] != "hello" {
		t.Fatalf("unexpected event %#v", event)
	}
}

func TestInitConsoleFormat(t *testing.T) {
	buf := captureStderr(t)

	Init(Config{Format: "console"})
	log.Info().Msg("console line")

	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "console line") {
		t.Fatalf("missing message in %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	captureStderr(t)

	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"DEBUG":    zerolog.DebugLevel,
		"warning":  zerolog.WarnLevel,
		" error ":  zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"bogus":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	captureStderr(t)

	SetLevel("warn")
	if Level() != "warn" {
		t.Fatalf("expected warn, got %s", Level())
	}
}

func TestRecentKeepsLatestLines(t *testing.T) {
	captureStderr(t)
	Init(Config{Format: "json"})

	log.Info().Msg("recent-marker")

	lines := Recent()
	if len(lines) == 0 || !strings.Contains(lines[len(lines)-1], "recent-marker") {
		t.Fatalf("expected the last line to hold the marker, got %v", lines)
	}

	for i := 0; i < HistorySize+10; i++ {
		log.Info().Int("i", i).Msg("fill")
	}
	if got := len(Recent()); got != HistorySize {
		t.Fatalf("expected %d lines, got %d", HistorySize, got)
	}
}

func TestRollingFileWriterRotates(t *testing.T) {
	captureStderr(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "uma-sync.log")

	w, err := newRollingFileWriter(Config{FilePath: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("newRollingFileWriter: %v", err)
	}
	defer w.Close()

	prevNow := nowFn
	nowFn = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	defer func() { nowFn = prevNow }()

	chunk := bytes.Repeat([]byte("x"), int(bytesPerMB/2)+1)
	for i := 0; i < 2; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	if _, err := os.Stat(path + ".20260102-030405"); err != nil {
		t.Fatalf("expected rotated file: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat active file: %v", err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Fatalf("expected active file to hold one chunk, got %d bytes", info.Size())
	}
}

func TestRollingFileWriterRejectsDirectory(t *testing.T) {
	captureStderr(t)
	dir := t.TempDir()
	if _, err := newRollingFileWriter(Config{FilePath: dir}); err == nil {
		t.Fatal("expected an error for a directory path")
	}
}

func TestGzipFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.log")
	if err := os.WriteFile(path, []byte("rotated"), 0o600); err != nil {
		t.Fatal(err)
	}
	compressAndRemove(path)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected source removed, got %v", err)
	}
	if _, err := os.Stat(path + ".gz"); err != nil {
		t.Fatalf("expected gzip output: %v", err)
	}
}
