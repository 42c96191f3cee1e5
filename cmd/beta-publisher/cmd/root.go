package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/oshokin/beta-publisher/internal/config"
	"github.com/oshokin/beta-publisher/internal/logger"
	"github.com/oshokin/beta-publisher/internal/service/publisher"
	"github.com/oshokin/beta-publisher/internal/version"
)

// flagValues mirrors the command line; only flags that were set override the file.
type flagValues struct {
	configPath     string
	workspace      string
	previousResult string
	java           string
	logLevel       string

	apiKey             string
	buildSecret        string
	apkPath            string
	useAntStyleInclude bool
	organization       string

	releaseNotesType      string
	releaseNotesParameter string
	releaseNotesFile      string

	notifyTestersType string
	testersEmails     string
	testersGroup      string

	toolURL       string
	toolCacheDir  string
	toolChecksum  string
	keepToolCache bool

	envFile        string
	redisURL       string
	pushgatewayURL string
}

var (
	flags flagValues

	// rootCmd uploads the built packages.
	rootCmd = &cobra.Command{
		Use:   "beta-publisher",
		Short: "Upload Android packages to Fabric Beta",
		Long: "Upload one or more APKs to Fabric Beta with the Crashlytics tools, " +
			"then publish the release links for later build steps.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			settings, err := loadSettings(cmd.Flags(), &flags)
			if err != nil {
				return err
			}

			if err = applyLogLevel(settings.LogLevel); err != nil {
				return err
			}

			defer logger.Sync()

			options := &publisher.Options{
				Settings:       settings,
				Workspace:      flags.workspace,
				PreviousResult: flags.previousResult,
				Java:           flags.java,
			}

			return publisher.Run(ctx, options)
		},
	}
)

// Execute runs the beta-publisher CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(newInitCommand())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadSettings reads the settings file, applies the flags that were set and validates the result.
func loadSettings(fs *pflag.FlagSet, values *flagValues) (*config.Config, error) {
	settings, err := config.Load(values.configPath)
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag  string
		apply func()
	}{
		{"api-key", func() { settings.APIKey = values.apiKey }},
		{"build-secret", func() { settings.BuildSecret = values.buildSecret }},
		{"apk-path", func() { settings.ApkPath = values.apkPath }},
		{"ant-style", func() { settings.UseAntStyleInclude = values.useAntStyleInclude }},
		{"organization", func() { settings.Organization = values.organization }},
		{"release-notes", func() { settings.ReleaseNotes.Type = values.releaseNotesType }},
		{"release-notes-parameter", func() { settings.ReleaseNotes.Parameter = values.releaseNotesParameter }},
		{"release-notes-file", func() { settings.ReleaseNotes.File = values.releaseNotesFile }},
		{"notify-testers", func() { settings.NotifyTesters.Type = values.notifyTestersType }},
		{"testers-emails", func() { settings.NotifyTesters.Emails = values.testersEmails }},
		{"testers-group", func() { settings.NotifyTesters.Group = values.testersGroup }},
		{"tool-url", func() { settings.Tool.DownloadURL = values.toolURL }},
		{"tool-cache-dir", func() { settings.Tool.CacheDir = values.toolCacheDir }},
		{"tool-checksum", func() { settings.Tool.Checksum = values.toolChecksum }},
		{"keep-tool-cache", func() { settings.Tool.KeepCache = values.keepToolCache }},
		{"env-file", func() { settings.Publish.EnvFile = values.envFile }},
		{"redis-url", func() { settings.Publish.RedisURL = values.redisURL }},
		{"pushgateway-url", func() { settings.Metrics.PushgatewayURL = values.pushgatewayURL }},
		{"log-level", func() { settings.LogLevel = values.logLevel }},
	}

	for _, o := range overrides {
		if fs.Changed(o.flag) {
			o.apply()
		}
	}

	if err = config.Validate(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return settings, nil
}

func applyLogLevel(level string) error {
	if level == "" {
		return nil
	}

	parsed, ok := logger.ParseLogLevel(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level) //nolint:err113 // One-off CLI input error.
	}

	logger.SetLevel(parsed)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	f := rootCmd.Flags()

	f.StringVarP(&flags.configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+" if present)")
	f.StringVarP(&flags.workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	f.StringVar(&flags.previousResult, "previous-result", "", "result of the build so far; FAILURE, ABORTED or NOT_BUILT aborts the upload")
	f.StringVar(&flags.java, "java", publisher.DefaultJavaExecutable, "java executable running the upload tool")
	f.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")

	f.StringVar(&flags.apiKey, "api-key", "", "Fabric API key, may reference ${VARS}")
	f.StringVar(&flags.buildSecret, "build-secret", "", "Fabric build secret, may reference ${VARS}")
	f.StringVar(&flags.apkPath, "apk-path", "", "comma-separated APK paths, or a pattern with --ant-style")
	f.BoolVar(&flags.useAntStyleInclude, "ant-style", false, "treat --apk-path as an Ant-style pattern")
	f.StringVar(&flags.organization, "organization", "", "organization used to build release links")

	f.StringVar(&flags.releaseNotesType, "release-notes", "", "release notes source: none, parameter, changelog or file")
	f.StringVar(&flags.releaseNotesParameter, "release-notes-parameter", "", "build parameter holding the release notes")
	f.StringVar(&flags.releaseNotesFile, "release-notes-file", "", "file holding the release notes")

	f.StringVar(&flags.notifyTestersType, "notify-testers", "", "tester notification: none, emails or group")
	f.StringVar(&flags.testersEmails, "testers-emails", "", "comma-separated tester emails")
	f.StringVar(&flags.testersGroup, "testers-group", "", "comma-separated tester group aliases")

	f.StringVar(&flags.toolURL, "tool-url", config.DefaultToolURL, "upload tool archive URL")
	f.StringVar(&flags.toolCacheDir, "tool-cache-dir", "", "directory caching the upload tool")
	f.StringVar(&flags.toolChecksum, "tool-checksum", "", "hex SHA-256 of the upload tool")
	f.BoolVar(&flags.keepToolCache, "keep-tool-cache", false, "keep the upload tool after the run")

	f.StringVar(&flags.envFile, "env-file", "", "dotenv file receiving the release links")
	f.StringVar(&flags.redisURL, "redis-url", "", "Redis server receiving the release links")
	f.StringVar(&flags.pushgatewayURL, "pushgateway-url", "", "Prometheus Pushgateway receiving run metrics")
}
