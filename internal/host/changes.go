package host

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/oshokin/beta-publisher/internal/logger"
)

// Variables CI servers set for git checkouts.
const (
	GitCommitVariable                   = "GIT_COMMIT"
	GitPreviousCommitVariable           = "GIT_PREVIOUS_COMMIT"
	GitPreviousSuccessfulCommitVariable = "GIT_PREVIOUS_SUCCESSFUL_COMMIT"
)

// ChangeHistory returns the subjects of the commits this build introduces,
// oldest first. The range starts after the previous successful (or previous)
// commit; without one only the built commit counts. Outside a git checkout the
// history is empty.
func (a *Agent) ChangeHistory(ctx context.Context) ([]string, error) {
	if _, err := exec.LookPath("git"); err != nil {
		logger.Debug(ctx, "git is not installed, the change history is empty")
		return nil, nil
	}

	if _, err := a.git(ctx, "rev-parse", "--is-inside-work-tree"); err != nil {
		logger.Debug(ctx, "The workspace is not a git checkout, the change history is empty")
		return nil, nil
	}

	head := strings.TrimSpace(a.env.Get(GitCommitVariable, ""))
	if head == "" {
		head = "HEAD"
	}

	previous := strings.TrimSpace(a.env.Get(GitPreviousSuccessfulCommitVariable, ""))
	if previous == "" {
		previous = strings.TrimSpace(a.env.Get(GitPreviousCommitVariable, ""))
	}

	// Revisions come from the environment and must never be read as options.
	args := []string{"log", "--reverse", "--no-merges", "--format=%s"}
	if previous != "" && previous != head {
		args = append(args, "--end-of-options", previous+".."+head)
	} else {
		args = append(args, "-1", "--end-of-options", head)
	}

	out, err := a.git(ctx, args...)
	if err != nil {
		return nil, err
	}

	var messages []string

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			messages = append(messages, line)
		}
	}

	return messages, scanner.Err()
}

func (a *Agent) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", a.workspace.Root()}, args...)...) //nolint:gosec // Arguments are built from git revisions.

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}

	return out, nil
}
