package publisher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/oshokin/beta-publisher/internal/logger"
)

// maxDiagnosticLine bounds a single error stream line.
const maxDiagnosticLine = 1024 * 1024

var errEmptyCommand = errors.New("command must not be empty")

// runTool starts command in dir and collects every line written to its error
// stream. Each line is logged as it arrives. A non-zero exit status alone is
// not a failure and is only logged.
func runTool(ctx context.Context, dir string, command []string) ([]string, error) {
	if len(command) == 0 {
		return nil, errEmptyCommand
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...) //nolint:gosec // The command is built from settings.
	cmd.Dir = dir

	stdout := logger.NewLineWriter(ctx, zapcore.DebugLevel)
	defer stdout.Flush()

	cmd.Stdout = stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attach to error stream: %w", err)
	}

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command[0], err)
	}

	var diagnostics []string

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxDiagnosticLine)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		logger.Error(ctx, line)
		diagnostics = append(diagnostics, line)
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		// Keep the tool from blocking on a full pipe.
		_, _ = io.Copy(io.Discard, stderr)
	}

	if err = cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return diagnostics, fmt.Errorf("wait for %s: %w", command[0], err)
		}

		logger.DebugKV(ctx, "Upload tool exited", "exit_code", exitErr.ExitCode())
	}

	if scanErr != nil {
		// The stream broke mid-line, so the artifact cannot be trusted as uploaded.
		return diagnostics, fmt.Errorf("read error stream: %w", scanErr)
	}

	return diagnostics, nil
}
