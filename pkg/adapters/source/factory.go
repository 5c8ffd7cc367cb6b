package source

import (
	"context"
	"fmt"

	"github.com/relaydata/relay-engine/pkg/apperrors"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/models"
)

// Factory creates connectors from the registry.
type Factory interface {
	// New creates a connector for the given database family.
	New(ctx context.Context, dbType models.DatabaseType, creds *crypto.Credentials) (Connector, error)

	// ListFamilies returns info for all registered families.
	ListFamilies() []Info
}

type registryFactory struct {
	opts Options
}

// NewFactory returns a factory backed by the global registry.
func NewFactory(opts Options) Factory {
	return &registryFactory{opts: opts}
}

func (f *registryFactory) New(ctx context.Context, dbType models.DatabaseType, creds *crypto.Credentials) (Connector, error) {
	factory := getFactory(dbType)
	if factory == nil {
		return nil, fmt.Errorf("%w: %s (not compiled in)", apperrors.ErrUnsupportedDatabaseType, dbType)
	}
	return factory(ctx, creds, f.opts)
}

func (f *registryFactory) ListFamilies() []Info {
	return RegisteredFamilies()
}

// Ensure registryFactory implements Factory at compile time.
var _ Factory = (*registryFactory)(nil)
