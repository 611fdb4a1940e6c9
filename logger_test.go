package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultLogConfig(t *testing.T) {
	config := DefaultLogConfig()
	if config.Level != LogLevelInfo {
		t.Errorf("Expected default level Info, got %d", config.Level)
	}
	if !config.Console {
		t.Error("Expected console output to be enabled by default")
	}
	if config.File {
		t.Error("Expected file output to be disabled by default")
	}
}

func TestPersistentLogConfig(t *testing.T) {
	config := PersistentLogConfig("/tmp/drover-data")
	if !config.File {
		t.Error("Expected file output to be enabled")
	}
	if !strings.HasSuffix(config.FilePath, filepath.Join("logs", "drover.log")) {
		t.Errorf("Unexpected log path %q", config.FilePath)
	}
}

func TestLoggerStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	testLogger := zerolog.New(&buf).With().Logger()

	testLogger.Info().
		Str("module", "device").
		Str("serial", "127.0.0.1:16384").
		Int("batteryPct", 85).
		Msg("health sample")

	output := buf.String()
	for _, want := range []string{"module", "device", "serial", "127.0.0.1:16384", "batteryPct", "85"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got %s", want, output)
		}
	}
}

func TestLogFunctions(t *testing.T) {
	if err := InitLogger(DefaultLogConfig()); err != nil {
		t.Fatalf("Failed to init logger: %v", err)
	}

	LogDebug("test").Msg("debug test")
	LogInfo("test").Msg("info test")
	LogWarn("test").Msg("warn test")
	LogError("test").Msg("error test")
}

func TestPersistentLoggerRotation(t *testing.T) {
	dir := t.TempDir()
	config := DefaultLogConfig()
	config.File = true
	config.FilePath = filepath.Join(dir, "drover.log")
	config.MaxSizeMB = 1
	config.Compress = false

	pl, err := NewPersistentLogger(config)
	if err != nil {
		t.Fatalf("Failed to create persistent logger: %v", err)
	}
	defer pl.Close()

	// Write past the rotation threshold.
	chunk := bytes.Repeat([]byte("x"), 64*1024)
	for i := 0; i < 20; i++ {
		if _, err := pl.Write(chunk); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "drover_*.log"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(rotated) == 0 {
		t.Error("Expected at least one rotated log file")
	}

	// The active file must still exist and be writable.
	if _, err := os.Stat(config.FilePath); err != nil {
		t.Errorf("Active log file missing after rotation: %v", err)
	}
	if _, err := pl.Write([]byte("after rotation\n")); err != nil {
		t.Errorf("Write after rotation failed: %v", err)
	}
}
