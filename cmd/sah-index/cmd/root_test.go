package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/search"
)

// isolate keeps config and logs out of the real home directory.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("SAH_INDEX_EMBEDDINGS_PROVIDER", "static")
	t.Setenv("SAH_INDEX_WORKERS", "2")
	t.Setenv("NO_COLOR", "1")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	p := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"status", "search", "duplicates", "index", "serve", "version"} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestStatusCmd_NoIndex(t *testing.T) {
	// Given: a workspace that was never indexed
	isolate(t)
	root := t.TempDir()

	// When: asking for status
	_, err := run(t, "--root", root, "status")

	// Then: the error says there is no index and nothing is created
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeNotFound, ierrors.GetCode(err))
	assert.NoDirExists(t, filepath.Join(root, ".swissarmyhammer"))
}

func TestIndexWaitThenStatus(t *testing.T) {
	// Given: a workspace with one Go file
	isolate(t)
	root := t.TempDir()
	writeFile(t, root, "calc.go", "package calc\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n")

	// When: indexing with --wait and reading status as JSON
	out, err := run(t, "--root", root, "index", "--wait")
	require.NoError(t, err)
	assert.Contains(t, out, "Index ready")

	out, err = run(t, "--root", root, "status", "--json")
	require.NoError(t, err)

	// Then: the index is ready and the lease was released on exit
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Ready)
	assert.Equal(t, 1, report.FileCount)
	assert.Positive(t, report.ChunkCount)
	assert.Equal(t, int64(1), report.LeaderEpoch)
	require.NotNil(t, report.Lease)
	assert.False(t, report.LeaseLive)
}

func TestStatusCmd_TextOutput(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	_, err := run(t, "--root", root, "index", "--wait")
	require.NoError(t, err)

	out, err := run(t, "--root", root, "status")

	require.NoError(t, err)
	assert.Contains(t, out, "Ready")
	assert.Contains(t, out, "Leader epoch")
}

func TestSearchCmd_JSON(t *testing.T) {
	// Given: a workspace with two distinct functions
	isolate(t)
	root := t.TempDir()
	writeFile(t, root, "calc.go", "package calc\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n")
	writeFile(t, root, "greet.go", "package calc\n\nfunc Greet(name string) string {\n\treturn \"hello \" + name\n}\n")

	// When: searching with an explicit zero threshold
	out, err := run(t, "--root", root, "search", "add", "two", "ints", "--min-score", "0", "--top-k", "5", "--json")

	// Then: every chunk comes back ordered by score
	require.NoError(t, err)
	var hits []search.SimilarChunk
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.NotEmpty(t, hits)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestSearchCmd_RequiresQuery(t *testing.T) {
	isolate(t)
	_, err := run(t, "--root", t.TempDir(), "search")
	assert.Error(t, err)
}

func TestSearchCmd_InvalidTopK(t *testing.T) {
	isolate(t)
	root := t.TempDir()

	_, err := run(t, "--root", root, "search", "x", "--top-k", "-1")

	assert.ErrorIs(t, err, ierrors.ErrInvalidQuery)
}

func TestDuplicatesCmd_FindsSharedBody(t *testing.T) {
	// Given: the same function body in two packages
	isolate(t)
	root := t.TempDir()
	body := "func helper() int {\n\treturn 42\n}\n"
	writeFile(t, root, "a/one.go", "package a\n\n"+body)
	writeFile(t, root, "b/two.go", "package b\n\n"+body)

	// When: looking for duplicates of any size
	out, err := run(t, "--root", root, "duplicates", "--min-similarity", "0.99", "--min-bytes", "5", "--json")

	// Then: one cluster joins the two copies
	require.NoError(t, err)
	var clusters []search.DuplicateCluster
	require.NoError(t, json.Unmarshal([]byte(out), &clusters))
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Members, 2)

	text, err := run(t, "--root", root, "duplicates", "--min-similarity", "0.99", "--min-bytes", "5")
	require.NoError(t, err)
	assert.Contains(t, text, "1 duplicate cluster(s)")
	assert.Contains(t, text, "a/one.go")
}

func TestLogsCmd_TailsWithLevel(t *testing.T) {
	// Given: a log file with mixed levels
	isolate(t)
	logPath := filepath.Join(t.TempDir(), "index.log")
	content := `{"time":"2026-03-01T10:00:01Z","level":"INFO","msg":"lease_acquired","epoch":1}
{"time":"2026-03-01T10:00:02Z","level":"ERROR","msg":"index_pass_failed","error":"disk full"}
`
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0o644))

	// When: showing errors only
	out, err := run(t, "logs", "--file", logPath, "--level", "error")

	// Then: only the error entry is printed
	require.NoError(t, err)
	assert.Contains(t, out, "index_pass_failed")
	assert.NotContains(t, out, "lease_acquired")

	_, err = run(t, "logs", "--file", logPath, "--level", "loud")
	assert.Error(t, err)
}

func TestRootCmd_ProfileFlags(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	heap := filepath.Join(dir, "heap.prof")

	_, err := run(t, "--profile-cpu", cpu, "--profile-mem", heap, "version", "--short")

	require.NoError(t, err)
	assert.FileExists(t, cpu)
	assert.FileExists(t, heap)
}
