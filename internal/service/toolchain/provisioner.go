package toolchain

import (
	"archive/zip"
	"context"
	"crypto"
	_ "crypto/sha256" // Registers the hash used for tool checksums.
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/beta-publisher/internal/logger"
	"github.com/oshokin/beta-publisher/internal/service/common"
)

const (
	// ToolEntry is the archive entry holding the upload tool.
	ToolEntry = "crashlytics/crashlytics-devtools.jar"

	// ToolFilename is the name of the installed tool inside the cache directory.
	ToolFilename = "crashlytics-devtools.jar"

	// DefaultCacheDirname is created under the user cache directory when no cache dir is configured.
	DefaultCacheDirname = "beta-publisher"

	// DefaultChecksumFunction hashes the extracted tool before install.
	DefaultChecksumFunction = crypto.SHA256

	defaultFileMode = 0o644
	markerFileMode  = 0o600
	cacheDirMode    = 0o755
)

var (
	errDownloadURLRequired = errors.New("tool download url must be provided")
	errToolEntryMissing    = errors.New("tool entry not found in archive")
	errClientRequired      = errors.New("http client must be provided")
)

// Options configure a Provisioner.
type Options struct {
	// DownloadURL is the location of the tool archive.
	DownloadURL string
	// CacheDir receives the installed tool. Defaults to the user cache directory.
	CacheDir string
	// Checksum is the expected SHA-256 of the extracted tool. Empty skips the check.
	Checksum []byte
	// SignatureURL and PublicKeyFile enable the detached signature check of the archive.
	SignatureURL  string
	PublicKeyFile string
	// TempDir hosts the downloaded archive. Defaults to the OS temp dir.
	TempDir string
	// Client performs the downloads.
	Client *common.Client
}

// Source tells where Ensure found the tool.
type Source string

const (
	// SourceCache means an installed copy was reused.
	SourceCache Source = "cache"
	// SourceDownload means the archive was fetched during this call.
	SourceDownload Source = "download"
)

// Provisioner makes the upload tool available on local disk.
// Ensure is safe for concurrent use.
type Provisioner struct {
	opts   Options
	client *common.Client
	target string
	mu     sync.Mutex
}

// New validates options and resolves the cache location.
func New(opts Options) (*Provisioner, error) {
	if opts.DownloadURL == "" {
		return nil, errDownloadURLRequired
	}

	if opts.Client == nil {
		return nil, errClientRequired
	}

	if opts.CacheDir == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			userCacheDir = os.TempDir()
		}

		opts.CacheDir = filepath.Join(userCacheDir, DefaultCacheDirname)
	}

	return &Provisioner{
		opts:   opts,
		client: opts.Client,
		target: filepath.Join(opts.CacheDir, ToolFilename),
	}, nil
}

// Path returns where the tool is installed once Ensure succeeds.
func (p *Provisioner) Path() string {
	return p.target
}

// Ensure returns the local path of the tool, downloading it only when no
// installed copy exists. Failures are reported as *ProvisionError.
func (p *Provisioner) Ensure(ctx context.Context) (string, Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isInstalled() {
		logger.InfoKV(ctx, "Using cached upload tool", "path", p.target)
		return p.target, SourceCache, nil
	}

	if err := os.MkdirAll(p.opts.CacheDir, cacheDirMode); err != nil {
		return "", "", provisionError(ExtractFailed, fmt.Errorf("create cache dir: %w", err))
	}

	release, err := acquireMarker(ctx, p.opts.CacheDir)
	if err != nil {
		return "", "", provisionError(DownloadFailed, err)
	}

	defer release()

	// Another run may have finished the install while we waited.
	if p.isInstalled() {
		logger.InfoKV(ctx, "Using upload tool installed by another run", "path", p.target)
		return p.target, SourceCache, nil
	}

	if err = p.install(ctx); err != nil {
		return "", "", err
	}

	logger.InfoKV(ctx, "Upload tool installed", "path", p.target)

	return p.target, SourceDownload, nil
}

// Purge removes the installed tool. A missing tool is not an error.
func (p *Provisioner) Purge(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(p.target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("delete upload tool: %w", err)
	}

	logger.Infof(ctx, "Deleted %s", p.target)

	return nil
}

func (p *Provisioner) isInstalled() bool {
	info, err := os.Stat(p.target)

	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func (p *Provisioner) install(ctx context.Context) error {
	archivePath, err := p.downloadArchive(ctx)
	if err != nil {
		return provisionError(DownloadFailed, err)
	}

	defer func() {
		if removeErr := os.Remove(archivePath); removeErr == nil {
			logger.Debugf(ctx, "Deleted %s", archivePath)
		}
	}()

	if p.opts.SignatureURL != "" {
		logger.Info(ctx, "Verifying the upload tool archive signature")

		if err = p.verifyArchive(ctx, archivePath); err != nil {
			return provisionError(VerifyFailed, err)
		}
	}

	if err = p.extract(ctx, archivePath); err != nil {
		return provisionError(ExtractFailed, err)
	}

	return nil
}

func (p *Provisioner) downloadArchive(ctx context.Context) (string, error) {
	logger.InfoKV(ctx, "Downloading upload tool", "url", p.opts.DownloadURL)

	archive, err := os.CreateTemp(p.opts.TempDir, "crashlytics-*.zip")
	if err != nil {
		return "", fmt.Errorf("create temporary archive: %w", err)
	}

	archivePath := archive.Name()

	written, err := p.client.Download(ctx, p.opts.DownloadURL, archive)
	if closeErr := archive.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(archivePath)

		return "", err
	}

	logger.DebugKV(ctx, "Downloaded upload tool archive", "path", archivePath, "bytes", written)

	return archivePath, nil
}

// extract installs the tool entry of the archive into the cache with go-update,
// which writes next to the target and renames it into place.
func (p *Provisioner) extract(ctx context.Context, archivePath string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	var entry *zip.File

	for _, f := range reader.File {
		if f.Name == ToolEntry {
			entry = f
			break
		}
	}

	if entry == nil {
		return fmt.Errorf("%s: %w", ToolEntry, errToolEntryMissing)
	}

	contents, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", ToolEntry, err)
	}

	defer func() {
		_ = contents.Close()
	}()

	// go-update renames the current target away first, so one must exist.
	if _, err = os.Stat(p.target); errors.Is(err, os.ErrNotExist) {
		if err = os.WriteFile(p.target, nil, defaultFileMode); err != nil {
			return fmt.Errorf("create tool placeholder: %w", err)
		}
	}

	logger.Debug(ctx, "Applying upload tool")

	options := goupdate.Options{
		TargetPath: p.target,
		TargetMode: defaultFileMode,
		Checksum:   p.opts.Checksum,
		Hash:       DefaultChecksumFunction,
	}

	if err = goupdate.Apply(contents, options); err != nil {
		_ = os.Remove(p.target)

		if rollbackErr := goupdate.RollbackError(err); rollbackErr != nil {
			return fmt.Errorf("install tool: %w (rollback failed: %v)", err, rollbackErr) //nolint:errorlint // Rollback error is informational.
		}

		return fmt.Errorf("install tool: %w", err)
	}

	oldFileName := filepath.Join(p.opts.CacheDir, "."+ToolFilename+".old")
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	return nil
}
