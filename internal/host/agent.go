package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/oshokin/beta-publisher/internal/domain/release"
	"github.com/oshokin/beta-publisher/internal/environ"
	"github.com/oshokin/beta-publisher/internal/locator"
	"github.com/oshokin/beta-publisher/internal/logger"
	"github.com/oshokin/beta-publisher/internal/repository/links"
	"github.com/oshokin/beta-publisher/internal/service/common"
)

var errClientRequired = errors.New("http client must be provided")

// Options describe the agent.
type Options struct {
	// Workspace is the checkout directory. Defaults to the working directory.
	Workspace string
	// Env is the build environment. Defaults to the process environment.
	Env environ.Environ
	// Client downloads remote artifacts.
	Client *common.Client
	// Links receives the published release links. Nil only logs them.
	Links links.Repository
	// TempDir hosts materialized artifacts. Defaults to the OS temp dir.
	TempDir string
}

// Agent is the CI agent the run executes on.
type Agent struct {
	env       environ.Environ
	workspace *locator.DirWorkspace
	client    *common.Client
	links     links.Repository
	tempDir   string
}

// New builds an agent from opts.
func New(opts Options) (*Agent, error) {
	if opts.Client == nil {
		return nil, errClientRequired
	}

	workspace, err := locator.NewDirWorkspace(opts.Workspace)
	if err != nil {
		return nil, err
	}

	env := opts.Env
	if env == nil {
		env = environ.FromOS()
	}

	return &Agent{
		env:       env,
		workspace: workspace,
		client:    opts.Client,
		links:     opts.Links,
		tempDir:   opts.TempDir,
	}, nil
}

// Environment returns the build environment.
func (a *Agent) Environment() environ.Environ {
	return a.env
}

// Workspace returns the checkout directory.
func (a *Agent) Workspace() locator.Workspace {
	return a.workspace
}

// CopyRemoteToLocal downloads a remote artifact into a new temporary file and
// returns its path. The caller owns the file.
func (a *Agent) CopyRemoteToLocal(ctx context.Context, remote string) (string, error) {
	withoutQuery, _, _ := strings.Cut(remote, "?")

	name := path.Base(withoutQuery)
	if name == "." || name == "/" || name == "" {
		name = "artifact.apk"
	}

	local, err := os.CreateTemp(a.tempDir, "remote-*-"+name)
	if err != nil {
		return "", fmt.Errorf("create local copy: %w", err)
	}

	localPath := local.Name()

	_, err = a.client.Download(ctx, remote, local)
	if closeErr := local.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(localPath)

		return "", fmt.Errorf("copy %s: %w", remote, err)
	}

	logger.DebugKV(ctx, "Copied remote artifact", "remote", remote, "local", localPath)

	return localPath, nil
}

// Publish logs every link and hands them to the configured sinks.
func (a *Agent) Publish(ctx context.Context, published []release.Link) error {
	for _, link := range published {
		logger.Infof(ctx, "Setting environment variable %s = %s", link.Name, link.Value)
	}

	if a.links == nil || len(published) == 0 {
		return nil
	}

	if err := a.links.Save(ctx, published); err != nil {
		return fmt.Errorf("publish links: %w", err)
	}

	return nil
}
