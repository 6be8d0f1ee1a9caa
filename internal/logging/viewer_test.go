package logging

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2026-03-01T10:00:00Z","level":"DEBUG","msg":"file_indexed","path":"a.go","chunks":2}
{"time":"2026-03-01T10:00:01Z","level":"INFO","msg":"lease_acquired","epoch":1}
not json at all
{"time":"2026-03-01T10:00:02Z","level":"WARN","msg":"lease_renewal_failed","error":"busy"}
{"time":"2026-03-01T10:00:03Z","level":"ERROR","msg":"index_pass_failed","error":"disk full"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseEntry(t *testing.T) {
	e := ParseEntry(`{"time":"2026-03-01T10:00:01Z","level":"INFO","msg":"lease_acquired","epoch":1}`)

	assert.Equal(t, "INFO", e.Level)
	assert.Equal(t, "lease_acquired", e.Message)
	assert.Equal(t, 2026, e.Time.Year())
	assert.Equal(t, float64(1), e.Attrs["epoch"])
	assert.Contains(t, e.Format(), "lease_acquired epoch=1")
}

func TestParseEntry_NotJSON(t *testing.T) {
	e := ParseEntry("panic: boom")

	assert.Empty(t, e.Message)
	assert.Equal(t, "panic: boom", e.Format())
}

func TestTail_LastN(t *testing.T) {
	// Given: a log with five lines
	path := writeLog(t, sampleLog)

	// When: tailing two
	entries, err := Tail(path, 2, Filter{})

	// Then: the last two come back in order
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "lease_renewal_failed", entries[0].Message)
	assert.Equal(t, "index_pass_failed", entries[1].Message)
}

func TestTail_Filters(t *testing.T) {
	path := writeLog(t, sampleLog)

	warn, err := Tail(path, 0, Filter{Level: "warn"})
	require.NoError(t, err)
	// The non-JSON line has no level and is kept.
	require.Len(t, warn, 3)

	lease, err := Tail(path, 0, Filter{Pattern: regexp.MustCompile(`lease_`)})
	require.NoError(t, err)
	assert.Len(t, lease, 2)
}

func TestTail_MissingFile(t *testing.T) {
	_, err := Tail(filepath.Join(t.TempDir(), "missing.log"), 10, Filter{})
	assert.Error(t, err)
}

func TestFollow_SeesAppendedLines(t *testing.T) {
	// Given: a log being followed
	path := writeLog(t, sampleLog)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, path, Filter{}, 10*time.Millisecond, func(e Entry) {
			mu.Lock()
			got = append(got, e.Message)
			mu.Unlock()
		})
	}()
	time.Sleep(50 * time.Millisecond)

	// When: two lines are appended, the second in two writes
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, _ = f.WriteString(`{"level":"INFO","msg":"first"}` + "\n" + `{"level":"INFO",`)
	time.Sleep(30 * time.Millisecond)
	_, _ = f.WriteString(`"msg":"second"}` + "\n")
	require.NoError(t, f.Close())

	// Then: only the new entries are delivered, whole
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "first second", strings.Join(got, " "))
}
