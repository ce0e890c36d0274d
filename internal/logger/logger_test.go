package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"molva/internal/config"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.Log{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewConsoleOnly(t *testing.T) {
	log, err := New(config.Log{Level: "info"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Info("hello")
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molva.log")
	log, err := New(config.Log{Level: "debug", Path: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log.Info("file entry")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "file entry") {
		t.Errorf("log entry missing from file: %s", data)
	}
}
