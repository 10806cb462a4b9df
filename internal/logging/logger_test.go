package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPrintfAppendsTimestampedLines(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	logger.Printf("unit %d done\n", 4)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	logger.Printf("after close")

	data, err := os.ReadFile(filepath.Join(dir, "logs", "suite.log"))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "[2025-01-02T03:04:05Z] unit 4 done\n" {
		t.Fatalf("unexpected log contents %q", got)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Printf("ignored")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close on nil logger returned %v", err)
	}
}
