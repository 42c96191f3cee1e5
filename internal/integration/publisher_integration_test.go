package integration

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/beta-publisher/internal/apk"
	"github.com/oshokin/beta-publisher/internal/config"
	"github.com/oshokin/beta-publisher/internal/environ"
	"github.com/oshokin/beta-publisher/internal/service/publisher"
	"github.com/oshokin/beta-publisher/internal/service/toolchain"
)

const fakeJava = `#!/bin/sh
for arg in "$@"; do printf '%s\n' "$arg" >> "%LOG%"; done
while [ $# -gt 0 ]; do
  if [ "$1" = "-uploadDist" ]; then dist="$2"; fi
  shift
done
case "$dist" in
  *broken*) echo "ERROR: upload rejected" >&2 ;;
esac
`

// toolServer serves the tool archive and a remote artifact, counting archive downloads.
type toolServer struct {
	*httptest.Server

	archiveHits atomic.Int32
	mu          sync.Mutex
	pushes      []string
}

func newToolServer(t *testing.T, archive, remoteAPK []byte) *toolServer {
	t.Helper()

	ts := new(toolServer)
	mux := http.NewServeMux()

	mux.HandleFunc("/android/ant/crashlytics.zip", func(w http.ResponseWriter, _ *http.Request) {
		ts.archiveHits.Add(1)
		_, _ = w.Write(archive)
	})

	mux.HandleFunc("/agent/ws/remote.apk", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(remoteAPK)
	})

	mux.HandleFunc("/metrics/", func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.pushes = append(ts.pushes, r.Method+" "+r.URL.Path)
		ts.mu.Unlock()

		w.WriteHeader(http.StatusOK)
	})

	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return ts
}

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	w := zip.NewWriter(&buf)
	for name, body := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)

		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())

	return buf.Bytes()
}

func apkBytes(t *testing.T, buildID string) []byte {
	t.Helper()

	return zipBytes(t, map[string]string{
		"classes.dex": "dex",
		apk.PropertiesEntry: "app_name=Acme\npackage_name=com.acme.app\nbuild_id=" + buildID +
			"\nversion_name=1.2.3\nversion_code=42\n",
	})
}

// TestPublisher_Run_EndToEnd uploads a local and a remote artifact, then checks
// the link sinks, the pushed metrics and that no temporary file is left.
//
//nolint:funlen // Integration test requires comprehensive setup and verification.
func TestPublisher_Run_EndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("the fake java is a shell script")
	}

	t.Parallel()

	dir := t.TempDir()
	workspace := filepath.Join(dir, "workspace")
	tempDir := filepath.Join(dir, "tmp")
	cacheDir := filepath.Join(dir, "cache")

	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "app"), 0o755))
	require.NoError(t, os.MkdirAll(tempDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "app", "local.apk"), apkBytes(t, "local1"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "NOTES.txt"), []byte("First beta"), 0o600))

	toolJar := "jar-contents"
	sum := sha256.Sum256([]byte(toolJar))
	srv := newToolServer(t, zipBytes(t, map[string]string{toolchain.ToolEntry: toolJar}), apkBytes(t, "remote1"))

	argsLog := filepath.Join(dir, "java-args.log")
	java := filepath.Join(dir, "java")
	require.NoError(t, os.WriteFile(java, []byte(strings.ReplaceAll(fakeJava, "%LOG%", argsLog)), 0o700)) //nolint:gosec // Test executable.

	redis := miniredis.RunT(t)
	envFile := filepath.Join(dir, "out", "links.env")

	// Settings go through a YAML file like on a real agent.
	cfgPath := filepath.Join(dir, config.DefaultConfigFilename)
	require.NoError(t, config.Save(cfgPath, &config.Config{
		APIKey:       "${FABRIC_API_KEY}",
		BuildSecret:  "${FABRIC_BUILD_SECRET}",
		ApkPath:      "app/local.apk, " + srv.URL + "/agent/ws/remote.apk",
		Organization: "acme",
		ReleaseNotes: config.ReleaseNotes{Type: config.ReleaseNotesFile, File: "NOTES.txt"},
		Tool: config.Tool{
			DownloadURL: srv.URL + "/android/ant/crashlytics.zip",
			CacheDir:    cacheDir,
			Checksum:    hex.EncodeToString(sum[:]),
		},
		Publish: config.Publish{
			EnvFile:  envFile,
			RedisURL: "redis://" + redis.Addr(),
			RedisKey: "beta-publisher:links",
		},
		Metrics: config.Metrics{PushgatewayURL: srv.URL},
		TempDir: tempDir,
	}))

	settings, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.NoError(t, config.Validate(settings))

	err = publisher.Run(context.Background(), &publisher.Options{
		Settings:  settings,
		Workspace: workspace,
		Java:      java,
		Env: environ.Environ{
			"FABRIC_API_KEY":      "key",
			"FABRIC_BUILD_SECRET": "secret",
		},
	})
	require.NoError(t, err)

	localLink := "https://fabric.io/acme/android/apps/com.acme.app/beta/releases/local1?build_version=42&display_version=1.2.3"
	remoteLink := "https://fabric.io/acme/android/apps/com.acme.app/beta/releases/remote1?build_version=42&display_version=1.2.3"

	// Links reach both sinks.
	values, err := godotenv.Read(envFile)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"FABRIC_BETA_BUILD_URL":   localLink,
		"FABRIC_BETA_BUILD_URL_0": localLink,
		"FABRIC_BETA_BUILD_URL_1": remoteLink,
	}, values)
	require.Equal(t, remoteLink, redis.HGet("beta-publisher:links", "FABRIC_BETA_BUILD_URL_1"))

	// The tool ran twice with the notes from the file.
	args, err := os.ReadFile(argsLog)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(string(args), "-uploadDist\n"))
	require.Equal(t, 2, strings.Count(string(args), "-betaDistributionReleaseNotes\nFirst beta\n"))
	require.Contains(t, string(args), "-apiSecret\nsecret\n")

	// One download, then the tool was purged with every temporary file.
	require.EqualValues(t, 1, srv.archiveHits.Load())
	require.NoFileExists(t, filepath.Join(cacheDir, toolchain.ToolFilename))

	leftovers, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	require.Empty(t, leftovers)

	srv.mu.Lock()
	defer srv.mu.Unlock()

	require.Len(t, srv.pushes, 1)
	require.True(t, strings.HasPrefix(srv.pushes[0], "PUT /metrics/job/beta_publisher"))
}

// TestPublisher_Run_FailedUpload reports failure while still publishing the good link.
func TestPublisher_Run_FailedUpload(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("the fake java is a shell script")
	}

	t.Parallel()

	dir := t.TempDir()
	workspace := filepath.Join(dir, "workspace")
	require.NoError(t, os.MkdirAll(workspace, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "broken.apk"), apkBytes(t, "bad"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "good.apk"), apkBytes(t, "good"), 0o600))

	srv := newToolServer(t, zipBytes(t, map[string]string{toolchain.ToolEntry: "jar"}), nil)

	argsLog := filepath.Join(dir, "java-args.log")
	java := filepath.Join(dir, "java")
	require.NoError(t, os.WriteFile(java, []byte(strings.ReplaceAll(fakeJava, "%LOG%", argsLog)), 0o700)) //nolint:gosec // Test executable.

	envFile := filepath.Join(dir, "links.env")
	settings := &config.Config{
		APIKey:       "key",
		BuildSecret:  "secret",
		ApkPath:      "*.apk",
		Organization: "acme",
		Tool: config.Tool{
			DownloadURL: srv.URL + "/android/ant/crashlytics.zip",
			CacheDir:    filepath.Join(dir, "cache"),
			KeepCache:   true,
		},
		Publish: config.Publish{EnvFile: envFile},
		TempDir: t.TempDir(),
	}
	settings.UseAntStyleInclude = true
	require.NoError(t, config.Validate(settings))

	err := publisher.Run(context.Background(), &publisher.Options{
		Settings:  settings,
		Workspace: workspace,
		Java:      java,
		Env:       environ.Environ{},
	})
	require.ErrorIs(t, err, publisher.ErrUploadFailed)

	values, err := godotenv.Read(envFile)
	require.NoError(t, err)
	require.Contains(t, values["FABRIC_BETA_BUILD_URL_1"], "releases/good?")

	// Kept for the next run.
	require.FileExists(t, filepath.Join(dir, "cache", toolchain.ToolFilename))
}

// TestPublisher_Run_ToolUnavailable aborts the run when the tool cannot be downloaded.
func TestPublisher_Run_ToolUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	workspace := t.TempDir()
	tempDir := t.TempDir()

	settings := &config.Config{
		APIKey:      "key",
		BuildSecret: "secret",
		ApkPath:     "app.apk",
		Tool: config.Tool{
			DownloadURL: srv.URL + "/crashlytics.zip",
			CacheDir:    t.TempDir(),
		},
		TempDir: tempDir,
	}
	require.NoError(t, config.Validate(settings))

	err := publisher.Run(context.Background(), &publisher.Options{
		Settings:  settings,
		Workspace: workspace,
		Env:       environ.Environ{},
	})

	var provisionErr *toolchain.ProvisionError
	require.ErrorAs(t, err, &provisionErr)
	require.Equal(t, toolchain.DownloadFailed, provisionErr.Kind)

	leftovers, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	require.Empty(t, leftovers)
}
