package locator

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/oshokin/beta-publisher/internal/domain/release"
)

// Kind tells whether a location is readable in place.
type Kind int

const (
	// Local locations are files on this machine.
	Local Kind = iota
	// Remote locations must be copied to a local file first.
	Remote
)

func (k Kind) String() string {
	if k == Remote {
		return "remote"
	}

	return "local"
}

// Location is one artifact to upload.
type Location struct {
	Path string
	Kind Kind
}

// Workspace is the directory tree artifacts are looked up in.
type Workspace interface {
	// Root is the absolute workspace directory.
	Root() string
	// Glob returns slash-separated, workspace-relative file matches in listing order.
	Glob(pattern string) ([]string, error)
}

// Options control one expansion.
type Options struct {
	// Spec is the raw artifact path setting.
	Spec string
	// UseGlob selects glob mode.
	UseGlob bool
	// Expand substitutes variable references in list entries. Nil leaves them untouched.
	Expand func(string) string
}

var errWorkspaceRequired = errors.New("workspace must be provided")

// Locate expands opts.Spec against ws. An empty result is not an error.
func Locate(ws Workspace, opts Options) ([]Location, error) {
	if ws == nil {
		return nil, errWorkspaceRequired
	}

	if opts.UseGlob {
		return locateGlob(ws, opts)
	}

	return locateList(ws, opts), nil
}

func locateGlob(ws Workspace, opts Options) ([]Location, error) {
	pattern := strings.TrimSpace(opts.Spec)
	if opts.Expand != nil {
		pattern = opts.Expand(pattern)
	}

	if pattern == "" {
		return nil, nil
	}

	matches, err := ws.Glob(filepath.ToSlash(pattern))
	if err != nil {
		return nil, fmt.Errorf("expand pattern %q: %w", pattern, err)
	}

	locations := make([]Location, 0, len(matches))
	for _, match := range matches {
		locations = append(locations, Location{
			Path: filepath.Join(ws.Root(), filepath.FromSlash(match)),
			Kind: Local,
		})
	}

	return locations, nil
}

func locateList(ws Workspace, opts Options) []Location {
	entries := strings.Split(opts.Spec, ",")
	locations := make([]Location, 0, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if opts.Expand != nil {
			entry = strings.TrimSpace(opts.Expand(entry))
		}

		if entry == "" {
			continue
		}

		if release.IsRemotePath(entry) {
			locations = append(locations, Location{Path: entry, Kind: Remote})
			continue
		}

		if !filepath.IsAbs(entry) {
			entry = filepath.Join(ws.Root(), entry)
		}

		locations = append(locations, Location{Path: filepath.Clean(entry), Kind: Local})
	}

	return locations
}

// DirWorkspace is a Workspace backed by a local directory.
type DirWorkspace struct {
	root string
}

// NewDirWorkspace returns a workspace rooted at dir, made absolute.
func NewDirWorkspace(dir string) (*DirWorkspace, error) {
	if dir == "" {
		dir = "."
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	return &DirWorkspace{root: root}, nil
}

// Root implements Workspace.
func (w *DirWorkspace) Root() string {
	return w.root
}

// Glob implements Workspace. Only regular files match.
func (w *DirWorkspace) Glob(pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(path.Clean(pattern), "./")

	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}

	return doublestar.Glob(os.DirFS(w.root), pattern, doublestar.WithFilesOnly())
}
