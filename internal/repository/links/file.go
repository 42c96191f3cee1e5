package links

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"

	"github.com/oshokin/beta-publisher/internal/domain/release"
)

// FileRepository keeps links in a dotenv file. Existing entries that are not
// overwritten survive a Save.
type FileRepository struct {
	// path is the dotenv file location.
	path string
	// mu serializes read-modify-write cycles.
	mu sync.Mutex
}

// NewFileRepository creates a repository backed by the dotenv file at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the file. A missing file yields an empty map.
func (r *FileRepository) Load(_ context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load()
}

// Save merges links into the file.
func (r *FileRepository) Save(_ context.Context, links []release.Link) error {
	if len(links) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	values, err := r.load()
	if err != nil {
		return err
	}

	for _, link := range links {
		values[link.Name] = link.Value
	}

	if dir := filepath.Dir(r.path); dir != "." {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create links dir: %w", err)
		}
	}

	if err = godotenv.Write(values, r.path); err != nil {
		return fmt.Errorf("write links file: %w", err)
	}

	return nil
}

func (r *FileRepository) load() (map[string]string, error) {
	values, err := godotenv.Read(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]string), nil
		}

		return nil, fmt.Errorf("read links file: %w", err)
	}

	return values, nil
}
