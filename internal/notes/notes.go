package notes

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Mode selects where release notes come from.
type Mode string

const (
	// ModeNone uploads without release notes.
	ModeNone Mode = "none"
	// ModeParameter reads the notes from a named build parameter.
	ModeParameter Mode = "parameter"
	// ModeChangelog builds the notes from the change history messages.
	ModeChangelog Mode = "changelog"
	// ModeFile reads the notes from a file.
	ModeFile Mode = "file"
)

var errUnknownMode = errors.New("unknown release notes mode")

// Source is the active notes source and its mode-specific argument.
type Source struct {
	Mode Mode
	// Parameter is the build parameter name for ModeParameter.
	Parameter string
	// File is the notes file for ModeFile. It may reference ${VARS} and is
	// resolved against the workspace when relative.
	File string
}

// Inputs are the capabilities Resolve reads from.
type Inputs struct {
	// Parameters is the build parameter table.
	Parameters map[string]string
	// Changes holds one message per change, oldest first.
	Changes []string
	// Workspace is the base of relative notes file paths.
	Workspace string
	// Expand substitutes variable references. Nil leaves paths untouched.
	Expand func(string) string
	// ReadFile reads a whole file.
	ReadFile func(path string) ([]byte, error)
}

// FileError is returned when the notes file cannot be read.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("read release notes file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Resolve returns the notes text for src. An unset mode behaves like ModeNone.
func Resolve(src Source, in Inputs) (string, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(string(src.Mode)))) {
	case "", ModeNone:
		return "", nil
	case ModeParameter:
		return in.Parameters[src.Parameter], nil
	case ModeChangelog:
		return FromChanges(in.Changes), nil
	case ModeFile:
		return fromFile(src.File, in)
	default:
		return "", fmt.Errorf("%w: %s", errUnknownMode, src.Mode)
	}
}

// FromChanges puts every message on its own line, each preceded by a newline.
// Bullets are added only when there is more than one message.
func FromChanges(messages []string) string {
	var (
		sb     strings.Builder
		bullet = len(messages) > 1
	)

	for _, msg := range messages {
		sb.WriteString("\n")

		if bullet {
			sb.WriteString("* ")
		}

		sb.WriteString(msg)
	}

	return sb.String()
}

func fromFile(path string, in Inputs) (string, error) {
	if in.Expand != nil {
		path = in.Expand(path)
	}

	if !filepath.IsAbs(path) && in.Workspace != "" {
		path = filepath.Join(in.Workspace, path)
	}

	if in.ReadFile == nil {
		return "", &FileError{Path: path, Err: errors.ErrUnsupported}
	}

	contents, err := in.ReadFile(path)
	if err != nil {
		return "", &FileError{Path: path, Err: err}
	}

	return string(contents), nil
}
