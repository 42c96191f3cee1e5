package links

import (
	"context"
	"errors"

	"github.com/oshokin/beta-publisher/internal/domain/release"
)

// Repository persists release links.
type Repository interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, links []release.Link) error
}

// Multi saves to every repository and loads the merged view, later ones winning.
type Multi []Repository

// Load implements Repository.
func (m Multi) Load(ctx context.Context) (map[string]string, error) {
	merged := make(map[string]string)

	for _, repo := range m {
		values, err := repo.Load(ctx)
		if err != nil {
			return nil, err
		}

		for k, v := range values {
			merged[k] = v
		}
	}

	return merged, nil
}

// Save implements Repository. Every repository is attempted; errors are joined.
func (m Multi) Save(ctx context.Context, links []release.Link) error {
	var errs []error

	for _, repo := range m {
		if err := repo.Save(ctx, links); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
