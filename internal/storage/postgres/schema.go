package postgres

import (
	"context"
	"fmt"
)

// Installer creates a schema.
type Installer interface {
	Install(ctx context.Context) error
}

// InstallAll runs each installer in order, stopping at the first failure.
func InstallAll(ctx context.Context, installers ...Installer) error {
	for _, in := range installers {
		if err := in.Install(ctx); err != nil {
			return fmt.Errorf("install schema: %w", err)
		}
	}
	return nil
}
