package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Release notes sources.
const (
	ReleaseNotesNone      = "none"
	ReleaseNotesParameter = "parameter"
	ReleaseNotesChangelog = "changelog"
	ReleaseNotesFile      = "file"
)

// Tester notification modes.
const (
	NotifyTestersNone   = "none"
	NotifyTestersEmails = "emails"
	NotifyTestersGroup  = "group"
)

const (
	// DefaultConfigFilename is the settings file looked up when --config is not given.
	DefaultConfigFilename = "beta-publisher.yaml"

	// DefaultToolURL is where the upload tool archive is published.
	DefaultToolURL = "https://ssl-download-crashlytics-com.s3.amazonaws.com/android/ant/crashlytics.zip"

	// DefaultToolTimeout bounds each network phase of the tool download.
	DefaultToolTimeout = 60 * time.Second

	// DefaultMetricsJob is the Pushgateway job label.
	DefaultMetricsJob = "beta_publisher"

	// DefaultRedisKey is the hash receiving release links when a Redis sink is configured.
	DefaultRedisKey = "beta-publisher:links"

	// DefaultFilePermissions is used for files the publisher writes for later steps.
	DefaultFilePermissions = 0o600
)

// Config holds everything a publishing run needs.
type Config struct {
	// APIKey authenticates against the distribution backend. May reference ${VARS}.
	APIKey string `yaml:"api_key"`
	// BuildSecret is the per-organization build secret. May reference ${VARS}.
	BuildSecret string `yaml:"build_secret"`
	// ApkPath is a comma-separated list of paths, or a glob when UseAntStyleInclude is set.
	ApkPath string `yaml:"apk_path"`
	// UseAntStyleInclude switches ApkPath to glob mode.
	UseAntStyleInclude bool `yaml:"use_ant_style_include"`
	// Organization enables release link construction when set.
	Organization string `yaml:"organization"`
	// ReleaseNotes selects where the release notes come from.
	ReleaseNotes ReleaseNotes `yaml:"release_notes"`
	// NotifyTesters selects who gets notified about the release.
	NotifyTesters NotifyTesters `yaml:"notify_testers"`
	// Tool controls provisioning of the upload tool.
	Tool Tool `yaml:"tool"`
	// Publish lists the sinks receiving release links.
	Publish Publish `yaml:"publish"`
	// Metrics configures the Pushgateway export.
	Metrics Metrics `yaml:"metrics"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// TempDir hosts the temporary files of a run. Defaults to the OS temp dir.
	TempDir string `yaml:"temp_dir"`
}

// ReleaseNotes selects one of the mutually exclusive notes sources.
type ReleaseNotes struct {
	Type      string `yaml:"type"`
	Parameter string `yaml:"parameter"`
	File      string `yaml:"file"`
}

// NotifyTesters selects the notification mode and its targets.
type NotifyTesters struct {
	Type   string `yaml:"type"`
	Emails string `yaml:"emails"`
	Group  string `yaml:"group"`
}

// Tool describes where the upload tool comes from and where it is cached.
type Tool struct {
	DownloadURL string `yaml:"download_url"`
	CacheDir    string `yaml:"cache_dir"`
	// Checksum is the hex SHA-256 of the extracted tool, verified before install.
	Checksum string `yaml:"checksum"`
	// SignatureURL points to a detached OpenPGP signature of the downloaded archive.
	SignatureURL string `yaml:"signature_url"`
	// PublicKeyFile holds the key the signature is checked against.
	PublicKeyFile string        `yaml:"public_key_file"`
	KeepCache     bool          `yaml:"keep_cache"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Publish lists the release link sinks; each one is optional.
type Publish struct {
	EnvFile  string        `yaml:"env_file"`
	RedisURL string        `yaml:"redis_url"`
	RedisKey string        `yaml:"redis_key"`
	RedisTTL time.Duration `yaml:"redis_ttl"`
}

// Metrics configures the Prometheus Pushgateway export.
type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

var (
	errConfigIsNotSet        = errors.New("configuration is not set")
	errAPIKeyRequired        = errors.New("api key must be provided")
	errBuildSecretRequired   = errors.New("build secret must be provided")
	errApkPathRequired       = errors.New("apk path must be provided")
	errUnknownReleaseNotes   = errors.New("unknown release notes type")
	errUnknownNotifyTesters  = errors.New("unknown notify testers type")
	errNotesParameterMissing = errors.New("release notes parameter name must be provided")
	errNotesFileMissing      = errors.New("release notes file must be provided")
	errSignatureKeyMissing   = errors.New("tool signature url requires a public key file")
)

// Load reads settings from path. A missing file at the default location is not
// an error: every setting can also come from flags.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	cfg := new(Config)

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Flags only.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg.ApplyDefaults()

	return cfg, nil
}

// Save writes the settings to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ApplyDefaults fills unset fields. Mode selectors never stay empty.
func (c *Config) ApplyDefaults() {
	c.ReleaseNotes.Type = normalizeMode(c.ReleaseNotes.Type, ReleaseNotesNone)
	c.NotifyTesters.Type = normalizeMode(c.NotifyTesters.Type, NotifyTestersNone)

	if c.Tool.DownloadURL == "" {
		c.Tool.DownloadURL = DefaultToolURL
	}

	if c.Tool.Timeout <= 0 {
		c.Tool.Timeout = DefaultToolTimeout
	}

	if c.Publish.RedisKey == "" {
		c.Publish.RedisKey = DefaultRedisKey
	}

	if c.Metrics.Job == "" {
		c.Metrics.Job = DefaultMetricsJob
	}
}

// ShouldNotifyTesters reports whether the upload enables tester notifications.
// Every mode except the explicit "none" does.
func (c *Config) ShouldNotifyTesters() bool {
	return !strings.EqualFold(c.NotifyTesters.Type, NotifyTestersNone)
}

// Validate checks required fields and the format of optional ones.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	cfg.ApplyDefaults()

	if strings.TrimSpace(cfg.APIKey) == "" {
		return errAPIKeyRequired
	}

	if strings.TrimSpace(cfg.BuildSecret) == "" {
		return errBuildSecretRequired
	}

	if strings.TrimSpace(cfg.ApkPath) == "" {
		return errApkPathRequired
	}

	if err := validateReleaseNotes(&cfg.ReleaseNotes); err != nil {
		return err
	}

	switch cfg.NotifyTesters.Type {
	case NotifyTestersNone, NotifyTestersEmails, NotifyTestersGroup:
	default:
		return fmt.Errorf("%w: %s", errUnknownNotifyTesters, cfg.NotifyTesters.Type)
	}

	return validateEndpoints(cfg)
}

func validateReleaseNotes(notes *ReleaseNotes) error {
	switch notes.Type {
	case ReleaseNotesNone, ReleaseNotesChangelog:
		return nil
	case ReleaseNotesParameter:
		if notes.Parameter == "" {
			return errNotesParameterMissing
		}

		return nil
	case ReleaseNotesFile:
		if notes.File == "" {
			return errNotesFileMissing
		}

		return nil
	default:
		return fmt.Errorf("%w: %s", errUnknownReleaseNotes, notes.Type)
	}
}

func validateEndpoints(cfg *Config) error {
	if _, err := url.ParseRequestURI(cfg.Tool.DownloadURL); err != nil {
		return fmt.Errorf("invalid tool download url: %w", err)
	}

	if cfg.Tool.Checksum != "" {
		if _, err := hex.DecodeString(cfg.Tool.Checksum); err != nil {
			return fmt.Errorf("invalid tool checksum: %w", err)
		}
	}

	if cfg.Tool.SignatureURL != "" {
		if _, err := url.ParseRequestURI(cfg.Tool.SignatureURL); err != nil {
			return fmt.Errorf("invalid tool signature url: %w", err)
		}

		if cfg.Tool.PublicKeyFile == "" {
			return errSignatureKeyMissing
		}
	}

	if cfg.Metrics.PushgatewayURL != "" {
		if _, err := url.ParseRequestURI(cfg.Metrics.PushgatewayURL); err != nil {
			return fmt.Errorf("invalid pushgateway url: %w", err)
		}
	}

	return nil
}

func normalizeMode(mode, fallback string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		return fallback
	}

	return mode
}
