package publisher

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/oshokin/beta-publisher/internal/config"
	"github.com/oshokin/beta-publisher/internal/environ"
	"github.com/oshokin/beta-publisher/internal/host"
	"github.com/oshokin/beta-publisher/internal/logger"
	"github.com/oshokin/beta-publisher/internal/metrics"
	"github.com/oshokin/beta-publisher/internal/repository/links"
	"github.com/oshokin/beta-publisher/internal/service/common"
	"github.com/oshokin/beta-publisher/internal/service/toolchain"
)

// ErrBuildFailed is returned when the build being published has already failed.
var ErrBuildFailed = errors.New("build has failed")

// Build results that stop the upload before any work.
var failedResults = map[string]struct{}{
	"FAILURE":   {},
	"NOT_BUILT": {},
	"ABORTED":   {},
}

// Options are inputs accepted by the publisher entry point.
type Options struct {
	// Settings are the validated run settings.
	Settings *config.Config
	// Workspace is the checkout directory. Defaults to the working directory.
	Workspace string
	// PreviousResult is the build status reported by the CI server, if any.
	PreviousResult string
	// Java overrides the executable running the upload tool.
	Java string
	// Env overrides the build environment. Defaults to the process environment.
	Env environ.Environ
}

// runner holds the collaborators built for one run.
type runner struct {
	opts     *Options
	pipeline *Pipeline
	closers  []func() error
}

// Run publishes every artifact and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "beta-publisher")
	ctx = logger.WithKV(ctx, "run_id", uuid.NewString())

	if opts == nil || opts.Settings == nil {
		return errSettingsRequired
	}

	if result := strings.ToUpper(strings.TrimSpace(opts.PreviousResult)); result != "" {
		if _, failed := failedResults[result]; failed {
			logger.Error(ctx, "Aborting Fabric Beta upload since build has failed.")
			return fmt.Errorf("%w: %s", ErrBuildFailed, result)
		}
	}

	r, err := newRunner(ctx, opts)
	if err != nil {
		return err
	}

	defer r.cleanup(ctx)

	logger.Info(ctx, "Fabric Beta Publisher:")

	outcome, err := r.pipeline.Execute(ctx)
	r.pushMetrics(ctx)

	if err != nil {
		logger.ErrorKV(ctx, "Publishing failed", "error", err)
		return err
	}

	logger.InfoKV(ctx, "Publishing completed", "artifacts", len(outcome.Artifacts), "links", len(outcome.Links))

	return nil
}

// newRunner wires the provisioner, host, link sinks and metrics from the settings.
func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	cfg := opts.Settings
	r := &runner{opts: opts}

	client := common.NewClient(common.WithTimeout(cfg.Tool.Timeout))

	var checksum []byte

	if cfg.Tool.Checksum != "" {
		var err error

		checksum, err = hex.DecodeString(cfg.Tool.Checksum)
		if err != nil {
			return nil, fmt.Errorf("decode tool checksum: %w", err)
		}
	}

	tool, err := toolchain.New(toolchain.Options{
		DownloadURL:   cfg.Tool.DownloadURL,
		CacheDir:      cfg.Tool.CacheDir,
		Checksum:      checksum,
		SignatureURL:  cfg.Tool.SignatureURL,
		PublicKeyFile: cfg.Tool.PublicKeyFile,
		TempDir:       cfg.TempDir,
		Client:        client,
	})
	if err != nil {
		return nil, err
	}

	env := opts.Env
	if env == nil {
		env = environ.FromOS()
	}

	linkRepository, err := r.linkRepository(env)
	if err != nil {
		r.cleanup(ctx)
		return nil, err
	}

	agent, err := host.New(host.Options{
		Workspace: opts.Workspace,
		Env:       env,
		Client:    client,
		Links:     linkRepository,
		TempDir:   cfg.TempDir,
	})
	if err != nil {
		r.cleanup(ctx)
		return nil, err
	}

	recorder, err := newRecorder(ctx, cfg, client)
	if err != nil {
		r.cleanup(ctx)
		return nil, err
	}

	r.pipeline = &Pipeline{
		Settings: cfg,
		Host:     agent,
		Tool:     tool,
		Metrics:  recorder,
		Java:     opts.Java,
	}

	return r, nil
}

// linkRepository builds the configured link sinks; nil when there are none.
func (r *runner) linkRepository(env environ.Environ) (links.Repository, error) {
	cfg := r.opts.Settings.Publish

	var sinks links.Multi

	if cfg.EnvFile != "" {
		sinks = append(sinks, links.NewFileRepository(env.Expand(cfg.EnvFile)))
	}

	if cfg.RedisURL != "" {
		redisRepository, err := links.NewRedisRepository(env.Expand(cfg.RedisURL), env.Expand(cfg.RedisKey), cfg.RedisTTL)
		if err != nil {
			return nil, err
		}

		r.closers = append(r.closers, redisRepository.Close)
		sinks = append(sinks, redisRepository)
	}

	if len(sinks) == 0 {
		return nil, nil //nolint:nilnil // No sinks configured means links are only logged.
	}

	return sinks, nil
}

// newRecorder returns a Pushgateway recorder when configured, Noop otherwise.
func newRecorder(ctx context.Context, cfg *config.Config, client *common.Client) (metrics.Recorder, error) {
	if cfg.Metrics.PushgatewayURL == "" {
		return metrics.Noop{}, nil
	}

	grouping := make(map[string]string)

	agent, err := common.DetectAgent()
	if err != nil {
		logger.WarnKV(ctx, "Could not detect the agent, pushing metrics without instance label", "error", err)
	} else {
		grouping["instance"] = agent.Hostname
	}

	return metrics.NewProm(metrics.PushOptions{
		URL:      cfg.Metrics.PushgatewayURL,
		Job:      cfg.Metrics.Job,
		Grouping: grouping,
		Client:   client.HTTP(),
	})
}

func (r *runner) pushMetrics(ctx context.Context) {
	if r.pipeline == nil || r.pipeline.Metrics == nil {
		return
	}

	if err := r.pipeline.Metrics.Push(ctx); err != nil {
		logger.WarnKV(ctx, "Could not push metrics", "error", err)
	}
}

// cleanup releases connections opened for the run.
func (r *runner) cleanup(ctx context.Context) {
	for _, closeFn := range r.closers {
		if err := closeFn(); err != nil {
			logger.WarnKV(ctx, "Could not close a link sink", "error", err)
		}
	}

	r.closers = nil
}
