package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/nemanja-m/fanout/examples/filetree"
	_ "github.com/nemanja-m/fanout/examples/tree"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRun_TreeSequential(t *testing.T) {
	stdout, stderr, err := execute(t, "run", "tree", "2", "1")
	require.NoError(t, err)

	var values []int
	require.NoError(t, json.Unmarshal([]byte(stdout), &values))
	require.Equal(t, []int{1, 2, 3, 5, 2, 3, 5, 4}, values)
	require.Contains(t, stderr, "Batch completed")
}

func TestRun_TreeParallelWithMetrics(t *testing.T) {
	stdout, stderr, err := execute(t, "run", "tree", "--threads", "3", "--wait-interval", "1ms", "--metrics")
	require.NoError(t, err)

	var values []int
	require.NoError(t, json.Unmarshal([]byte(stdout), &values))
	require.Len(t, values, 32)
	require.Contains(t, stderr, "counter jobs.completed")
}

func TestRun_Filetree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))

	stdout, _, err := execute(t, "run", "filetree", "--log-level", "error", "**/*.go", root)
	require.NoError(t, err)
	require.Contains(t, stdout, `"files": 1`)
}

func TestRun_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fanout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  thread_count: 2\nlogging:\n  level: debug\n  format: text\n"), 0o644))

	_, stderr, err := execute(t, "run", "tree", "--config", path, "1", "0")
	require.NoError(t, err)
	require.Contains(t, stderr, "threads=2")
	require.Contains(t, stderr, "level=DEBUG")
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing job", args: []string{"run"}, want: "requires at least 1 arg"},
		{name: "unknown job", args: []string{"run", "nope"}, want: "job type not found"},
		{name: "bad args", args: []string{"run", "tree", "x"}, want: "invalid arguments for tree"},
		{name: "bad log level", args: []string{"run", "tree", "--log-level", "loud"}, want: "invalid log level"},
		{name: "negative threads", args: []string{"run", "tree", "--threads", "-3"}, want: "thread count must not be negative"},
		{name: "missing root", args: []string{"run", "filetree", "/definitely/not/here"}, want: "invalid arguments for filetree"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestList(t *testing.T) {
	stdout, _, err := execute(t, "list")
	require.NoError(t, err)
	require.Contains(t, stdout, "filetree")
	require.Contains(t, stdout, "tree")
	require.Contains(t, stdout, "records reducer order")
}
