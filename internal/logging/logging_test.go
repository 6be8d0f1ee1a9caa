package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(path) != "index.log" {
		t.Errorf("DefaultLogPath should end with index.log, got: %s", path)
	}
	if !strings.Contains(path, ".sah-index") {
		t.Errorf("DefaultLogPath should live under .sah-index, got: %s", path)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got: %s", cfg.Level)
	}
	if cfg.MaxSizeMB != 10 || cfg.MaxFiles != 5 {
		t.Errorf("unexpected rotation defaults: %d MB, %d files", cfg.MaxSizeMB, cfg.MaxFiles)
	}
	if !cfg.WriteToStderr {
		t.Error("expected WriteToStderr to be true")
	}
	if DebugConfig().Level != "debug" {
		t.Error("expected debug level from DebugConfig")
	}
}

func TestServeConfig_NeverWritesToStderr(t *testing.T) {
	cfg := ServeConfig("warn")

	if cfg.WriteToStderr {
		t.Error("serve mode must not write to stderr")
	}
	if cfg.Level != "warn" {
		t.Errorf("expected level 'warn', got: %s", cfg.Level)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, cleanup, err := Setup(Config{
		Level:     "debug",
		FilePath:  logPath,
		MaxSizeMB: 1,
		MaxFiles:  3,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.Info("lease_acquired", "epoch", 3)
	cleanup()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "lease_acquired" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["epoch"] != float64(3) {
		t.Errorf("unexpected epoch: %v", entry["epoch"])
	}
}

func TestSetup_LevelFilters(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "level.log")

	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: logPath})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	cleanup()

	content, _ := os.ReadFile(logPath)
	if strings.Contains(string(content), "dropped") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(string(content), "kept") {
		t.Error("warn line should be written")
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"INFO", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
	}

	for _, tc := range tests {
		level := LevelFromString(tc.input)
		if level.String() != tc.expected {
			t.Errorf("LevelFromString(%q) = %s, want %s", tc.input, level.String(), tc.expected)
		}
	}

	if ValidLevel("verbose") {
		t.Error("verbose is not a valid level")
	}
	if !ValidLevel("Error") {
		t.Error("Error should be a valid level")
	}
}

func TestFindLogFile(t *testing.T) {
	if _, err := FindLogFile("/nonexistent/path/to/log.log"); err == nil {
		t.Error("expected error for missing explicit path")
	}

	logPath := filepath.Join(t.TempDir(), "explicit.log")
	if err := os.WriteFile(logPath, []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindLogFile(logPath)
	if err != nil || got != logPath {
		t.Errorf("FindLogFile(%q) = %q, %v", logPath, got, err)
	}
}

func newSmallWriter(t *testing.T, name string, maxFiles int) (*RotatingWriter, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), name)
	w, err := NewRotatingWriter(logPath, 1, maxFiles)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	w.maxSize = 1024
	t.Cleanup(func() { _ = w.Close() })
	return w, logPath
}

func TestRotatingWriter_Rotation(t *testing.T) {
	w, logPath := newSmallWriter(t, "rotate.log", 3)
	data := []byte(strings.Repeat("x", 800))

	for i := 0; i < 2; i++ {
		if _, err := w.Write(data); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(logPath); err != nil {
		t.Error("main log file should exist")
	}
	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Error("rotated file .1 should exist")
	}
}

func TestRotatingWriter_MaxFilesLimit(t *testing.T) {
	w, logPath := newSmallWriter(t, "maxfiles.log", 2)
	data := []byte(strings.Repeat("y", 800))

	for i := 0; i < 6; i++ {
		_, _ = w.Write(data)
	}

	if _, err := os.Stat(logPath + ".2"); err != nil {
		t.Error("rotated file .2 should exist")
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("rotated file .3 should not exist (beyond maxFiles)")
	}
}

func TestRotatingWriter_WriteAfterCloseReopens(t *testing.T) {
	w, logPath := newSmallWriter(t, "reopen.log", 3)

	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := w.Write([]byte("after close\n")); err != nil {
		t.Fatalf("write after close failed: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	content, _ := os.ReadFile(logPath)
	if !strings.Contains(string(content), "after close") {
		t.Error("expected data written after reopen")
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")
	w, err := NewRotatingWriter(logPath, 10, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()
	w.SetSyncOnWrite(false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = fmt.Fprintf(w, "{\"id\":%d,\"iter\":%d}\n", id, j)
			}
		}(i)
	}
	wg.Wait()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file should exist: %v", err)
	}
	if got := strings.Count(string(content), "\n"); got != 1000 {
		t.Errorf("expected 1000 lines, got %d", got)
	}
}
