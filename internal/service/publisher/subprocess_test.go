package publisher

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func shellScript(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}

	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700)) //nolint:gosec // Test executable.

	return path
}

// TestRunTool_Diagnostics collects every error stream line, including empty ones.
func TestRunTool_Diagnostics(t *testing.T) {
	t.Parallel()

	script := shellScript(t, "echo out\necho first >&2\necho >&2\nprintf 'last' >&2\n")

	diagnostics, err := runTool(context.Background(), t.TempDir(), []string{script})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "", "last"}, diagnostics)
}

// TestRunTool_ExitCodeIgnored reports no diagnostics for a silent failure.
func TestRunTool_ExitCodeIgnored(t *testing.T) {
	t.Parallel()

	script := shellScript(t, "echo working\nexit 7\n")

	diagnostics, err := runTool(context.Background(), t.TempDir(), []string{script})
	require.NoError(t, err)
	require.Empty(t, diagnostics)
}

// TestRunTool_WorkingDirectory runs the tool inside the workspace.
func TestRunTool_WorkingDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := shellScript(t, "pwd > cwd.txt\n")

	_, err := runTool(context.Background(), dir, []string{script})
	require.NoError(t, err)

	cwd, err := os.ReadFile(filepath.Join(dir, "cwd.txt"))
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	got, err := filepath.EvalSymlinks(strings.TrimSpace(string(cwd)))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// TestRunTool_StartFailure surfaces a missing executable as an error.
func TestRunTool_StartFailure(t *testing.T) {
	t.Parallel()

	_, err := runTool(context.Background(), t.TempDir(), []string{filepath.Join(t.TempDir(), "missing-java")})
	require.Error(t, err)

	_, err = runTool(context.Background(), t.TempDir(), nil)
	require.ErrorIs(t, err, errEmptyCommand)
}

// TestWriteManifestStub writes the fixed document and deleteFile removes it.
func TestWriteManifestStub(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	path, err := writeManifestStub(dir)
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(path))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, ManifestStub, string(contents))

	deleteFile(context.Background(), path)
	require.NoFileExists(t, path)

	deleteFile(context.Background(), path)
	deleteFile(context.Background(), "")
}
