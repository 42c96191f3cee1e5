package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oshokin/beta-publisher/internal/apk"
	"github.com/oshokin/beta-publisher/internal/config"
	"github.com/oshokin/beta-publisher/internal/domain/release"
	"github.com/oshokin/beta-publisher/internal/environ"
	"github.com/oshokin/beta-publisher/internal/locator"
	"github.com/oshokin/beta-publisher/internal/logger"
	"github.com/oshokin/beta-publisher/internal/metrics"
	"github.com/oshokin/beta-publisher/internal/notes"
	"github.com/oshokin/beta-publisher/internal/service/toolchain"
)

// ErrUploadFailed is returned when no artifact was found or any upload failed.
var ErrUploadFailed = errors.New("beta upload failed")

var (
	errSettingsRequired = errors.New("settings must be provided")
	errHostRequired     = errors.New("host must be provided")
	errToolRequired     = errors.New("tool provisioner must be provided")
)

// Host is the CI agent the run executes on.
type Host interface {
	Environment() environ.Environ
	Workspace() locator.Workspace
	// CopyRemoteToLocal downloads a remote artifact to a temporary file the caller owns.
	CopyRemoteToLocal(ctx context.Context, remote string) (string, error)
	// ChangeHistory returns the change messages of the build, oldest first.
	ChangeHistory(ctx context.Context) ([]string, error)
	Publish(ctx context.Context, links []release.Link) error
}

// Tool provisions the upload tool.
type Tool interface {
	Ensure(ctx context.Context) (string, toolchain.Source, error)
	Purge(ctx context.Context) error
}

// Pipeline uploads every located artifact. Build one per run.
type Pipeline struct {
	Settings *config.Config
	Host     Host
	Tool     Tool
	// Metrics defaults to metrics.Noop.
	Metrics metrics.Recorder
	// Java defaults to DefaultJavaExecutable.
	Java string
}

// runState is what the per-artifact step shares.
type runState struct {
	env          environ.Environ
	workDir      string
	toolPath     string
	manifestPath string
	notes        string
	organization string
}

// Execute runs the whole pipeline. Fatal problems (tool provisioning, notes
// file, bad artifact pattern) return an error and no outcome. Otherwise the
// outcome is returned together with ErrUploadFailed when it did not succeed.
func (p *Pipeline) Execute(ctx context.Context) (*release.Outcome, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	recorder := p.Metrics
	if recorder == nil {
		recorder = metrics.Noop{}
	}

	started := time.Now()
	cfg := p.Settings

	toolPath, source, err := p.Tool.Ensure(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Error provisioning the upload tool", "error", err)
		return nil, err
	}

	recorder.IncToolProvision(string(source))

	if !cfg.Tool.KeepCache {
		defer func() {
			if purgeErr := p.Tool.Purge(ctx); purgeErr != nil {
				logger.WarnKV(ctx, "Could not delete the upload tool", "error", purgeErr)
			}
		}()
	}

	env := p.Host.Environment()
	workspace := p.Host.Workspace()

	locations, err := locator.Locate(workspace, locator.Options{
		Spec:    cfg.ApkPath,
		UseGlob: cfg.UseAntStyleInclude,
		Expand:  env.Expand,
	})
	if err != nil {
		return nil, fmt.Errorf("locate artifacts: %w", err)
	}

	releaseNotes, err := p.resolveNotes(ctx, env, workspace.Root())
	if err != nil {
		return nil, err
	}

	manifestPath, err := writeManifestStub(cfg.TempDir)
	if err != nil {
		return nil, err
	}

	defer deleteFile(ctx, manifestPath)

	state := &runState{
		env:          env,
		workDir:      workspace.Root(),
		toolPath:     toolPath,
		manifestPath: manifestPath,
		notes:        releaseNotes,
		organization: env.Expand(cfg.Organization),
	}

	if state.organization == "" {
		logger.Info(ctx, "Skipped constructing Fabric Beta link because organization is not set.")
	}

	if len(locations) == 0 {
		logger.WarnKV(ctx, "No artifacts matched", "apk_path", cfg.ApkPath)
	}

	outcome := new(release.Outcome)

	for index, location := range locations {
		result := p.uploadArtifact(ctx, state, index, location)
		outcome.Artifacts = append(outcome.Artifacts, result)

		if result.Link != "" {
			outcome.Links = append(outcome.Links, release.LinksFor(index, result.Link)...)
		}

		if result.Uploaded {
			recorder.IncUploads(metrics.ResultSuccess)
		} else {
			recorder.IncUploads(metrics.ResultFailure)
		}
	}

	publishErr := p.Host.Publish(ctx, outcome.Links)
	if publishErr != nil {
		logger.ErrorKV(ctx, "Could not publish release links", "error", publishErr)
	}

	succeeded := outcome.Succeeded() && publishErr == nil
	recorder.ObserveRun(time.Since(started), succeeded)

	var uploadErr error
	if !outcome.Succeeded() {
		uploadErr = fmt.Errorf("%d of %d artifacts: %w", len(outcome.Failed()), len(locations), ErrUploadFailed)
	}

	if err := errors.Join(uploadErr, publishErr); err != nil {
		return outcome, err
	}

	return outcome, nil
}

func (p *Pipeline) validate() error {
	switch {
	case p.Settings == nil:
		return errSettingsRequired
	case p.Host == nil:
		return errHostRequired
	case p.Tool == nil:
		return errToolRequired
	default:
		return nil
	}
}

// resolveNotes produces the release notes once for the whole run.
func (p *Pipeline) resolveNotes(ctx context.Context, env environ.Environ, workspace string) (string, error) {
	cfg := p.Settings.ReleaseNotes

	var changes []string

	if cfg.Type == config.ReleaseNotesChangelog {
		var err error

		changes, err = p.Host.ChangeHistory(ctx)
		if err != nil {
			logger.WarnKV(ctx, "Could not read the change history, uploading without it", "error", err)
		}
	}

	text, err := notes.Resolve(notes.Source{
		Mode:      notes.Mode(cfg.Type),
		Parameter: cfg.Parameter,
		File:      cfg.File,
	}, notes.Inputs{
		Parameters: env,
		Changes:    changes,
		Workspace:  workspace,
		Expand:     env.Expand,
		ReadFile:   os.ReadFile,
	})
	if err != nil {
		logger.ErrorKV(ctx, "Could not resolve release notes", "error", err)
		return "", err
	}

	return text, nil
}

// uploadArtifact runs the tool for one artifact. It never aborts the run.
func (p *Pipeline) uploadArtifact(
	ctx context.Context,
	state *runState,
	index int,
	location locator.Location,
) release.ArtifactResult {
	ctx = logger.WithKV(ctx, "artifact", index)
	result := release.ArtifactResult{Index: index, Path: location.Path}

	artifactPath := location.Path

	if location.Kind == locator.Remote {
		local, err := p.Host.CopyRemoteToLocal(ctx, location.Path)
		if err != nil {
			logger.ErrorKV(ctx, "Could not copy remote artifact", "path", location.Path, "error", err)
			return result
		}

		defer deleteFile(ctx, local)

		artifactPath = local
	}

	if state.organization != "" {
		result.Link = p.releaseLink(ctx, artifactPath, state.organization)
	}

	command := BuildCommand(CommandSpec{
		Java:         p.Java,
		ToolPath:     state.toolPath,
		ManifestPath: state.manifestPath,
		ArtifactPath: artifactPath,
		ReleaseNotes: state.notes,
		Settings:     p.Settings,
		Env:          state.env,
	})

	logger.Infof(ctx, "Executing command: %v", MaskCommand(command))

	diagnostics, err := runTool(ctx, state.workDir, command)
	result.Diagnostics = diagnostics

	switch {
	case err != nil:
		logger.ErrorKV(ctx, "Upload tool failed", "path", location.Path, "error", err)
	case len(diagnostics) > 0:
		logger.ErrorKV(ctx, "Upload tool reported errors", "path", location.Path, "lines", len(diagnostics))
	default:
		result.Uploaded = true
		logger.InfoKV(ctx, "Artifact uploaded", "path", location.Path)
	}

	return result
}

// releaseLink reads the build record of the artifact. Problems only cost the link.
func (p *Pipeline) releaseLink(ctx context.Context, artifactPath, organization string) string {
	identity, err := apk.ReadBuildIdentity(artifactPath)
	if err != nil {
		logger.ErrorKV(ctx, "Could not read the build record, skipping release link", "error", err)
		return ""
	}

	if identity == nil {
		logger.WarnKV(ctx, "Could not read APK properties, skipping release link", "path", artifactPath)
		return ""
	}

	return identity.ReleaseLink(organization)
}
