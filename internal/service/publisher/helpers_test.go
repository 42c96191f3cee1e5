package publisher

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/beta-publisher/internal/apk"
	"github.com/oshokin/beta-publisher/internal/domain/release"
	"github.com/oshokin/beta-publisher/internal/environ"
	"github.com/oshokin/beta-publisher/internal/locator"
	"github.com/oshokin/beta-publisher/internal/service/toolchain"
)

// fakeJavaScript stands in for the JVM. It records its arguments, complains on
// stderr for artifacts whose name contains "broken" and exits non-zero without
// complaining for artifacts whose name contains "exitcode".
const fakeJavaScript = `#!/bin/sh
log="%LOG%"
for arg in "$@"; do printf '%s\n' "$arg" >> "$log"; done
echo "---" >> "$log"
dist=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-uploadDist" ]; then dist="$2"; fi
  shift
done
case "$dist" in
  *broken*) echo "Crashlytics Devtools: upload rejected" >&2; echo "ERROR: $dist" >&2; exit 0 ;;
  *exitcode*) echo "uploaded with warnings"; exit 3 ;;
esac
echo "Uploaded $dist"
`

// fakeJava writes the script and returns its path and the argument log path.
func fakeJava(t *testing.T) (string, string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("the fake java is a shell script")
	}

	dir := t.TempDir()
	logPath := filepath.Join(dir, "java-args.log")
	script := filepath.Join(dir, "java")

	require.NoError(t, os.WriteFile(script, []byte(strings.ReplaceAll(fakeJavaScript, "%LOG%", logPath)), 0o700)) //nolint:gosec // Test executable.

	return script, logPath
}

// invocations splits the argument log into one slice per tool run.
func invocations(t *testing.T, logPath string) [][]string {
	t.Helper()

	contents, err := os.ReadFile(logPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	require.NoError(t, err)

	var (
		runs    [][]string
		current []string
	)

	for _, line := range strings.Split(strings.TrimSuffix(string(contents), "\n"), "\n") {
		if line == "---" {
			runs = append(runs, current)
			current = nil

			continue
		}

		current = append(current, line)
	}

	return runs
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}

	return ""
}

// writeAPK creates a package with the given build record; nil skips the record.
func writeAPK(t *testing.T, path string, record map[string]string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := os.Create(path)
	require.NoError(t, err)

	w := zip.NewWriter(f)

	manifest, err := w.Create("AndroidManifest.xml")
	require.NoError(t, err)
	_, err = manifest.Write([]byte("binary manifest"))
	require.NoError(t, err)

	if record != nil {
		entry, createErr := w.Create(apk.PropertiesEntry)
		require.NoError(t, createErr)

		for k, v := range record {
			_, err = entry.Write([]byte(k + "=" + v + "\n"))
			require.NoError(t, err)
		}
	}

	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func identityRecord(buildID string) map[string]string {
	return map[string]string{
		"app_name":     "Acme",
		"package_name": "com.acme.app",
		"build_id":     buildID,
		"version_name": "1.2.3",
		"version_code": "42",
	}
}

// fakeHost implements Host on a local workspace.
type fakeHost struct {
	env        environ.Environ
	workspace  *locator.DirWorkspace
	tempDir    string
	remote     map[string]string
	changes    []string
	publishErr error

	mu        sync.Mutex
	copies    []string
	published []release.Link
	publishes int
}

func newFakeHost(t *testing.T, env environ.Environ) *fakeHost {
	t.Helper()

	ws, err := locator.NewDirWorkspace(t.TempDir())
	require.NoError(t, err)

	if env == nil {
		env = environ.Environ{}
	}

	return &fakeHost{env: env, workspace: ws, tempDir: t.TempDir(), remote: map[string]string{}}
}

func (h *fakeHost) Environment() environ.Environ { return h.env }

func (h *fakeHost) Workspace() locator.Workspace { return h.workspace }

func (h *fakeHost) CopyRemoteToLocal(_ context.Context, remote string) (string, error) {
	source, ok := h.remote[remote]
	if !ok {
		return "", os.ErrNotExist
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return "", err
	}

	local := filepath.Join(h.tempDir, "copy-"+filepath.Base(source))
	if err = os.WriteFile(local, data, 0o600); err != nil {
		return "", err
	}

	h.mu.Lock()
	h.copies = append(h.copies, local)
	h.mu.Unlock()

	return local, nil
}

func (h *fakeHost) ChangeHistory(context.Context) ([]string, error) { return h.changes, nil }

func (h *fakeHost) Publish(_ context.Context, links []release.Link) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.publishes++
	h.published = append(h.published, links...)

	return h.publishErr
}

// fakeTool implements Tool with a file it creates itself.
type fakeTool struct {
	path    string
	err     error
	ensured int
	purged  int
}

func newFakeTool(t *testing.T) *fakeTool {
	t.Helper()

	path := filepath.Join(t.TempDir(), toolchain.ToolFilename)
	require.NoError(t, os.WriteFile(path, []byte("jar"), 0o600))

	return &fakeTool{path: path}
}

func (f *fakeTool) Ensure(context.Context) (string, toolchain.Source, error) {
	f.ensured++
	if f.err != nil {
		return "", "", f.err
	}

	return f.path, toolchain.SourceCache, nil
}

func (f *fakeTool) Purge(context.Context) error {
	f.purged++
	return nil
}

// requireEmptyDir fails when dir still holds files.
func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	require.Empty(t, names)
}
