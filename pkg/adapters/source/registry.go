package source

import (
	"context"
	"sync"
	"time"

	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/models"
)

// Options carries sync tuning shared by every connector.
type Options struct {
	// FetchBatchSize bounds rows held in memory per streamed batch.
	FetchBatchSize int
	// ConnectTimeout bounds dialing and liveness probes.
	ConnectTimeout time.Duration
}

// DefaultFetchBatchSize is used when Options.FetchBatchSize is zero.
const DefaultFetchBatchSize = 500

// BatchSize returns the effective batch size.
func (o Options) BatchSize() int {
	if o.FetchBatchSize > 0 {
		return o.FetchBatchSize
	}
	return DefaultFetchBatchSize
}

// Info describes a registered connector family for API discovery.
type Info struct {
	Type        models.DatabaseType `json:"type"`
	DisplayName string              `json:"display_name"`
	Description string              `json:"description"`
}

// Registration contains info plus the factory for creating connectors.
type Registration struct {
	Info    Info
	Factory func(ctx context.Context, creds *crypto.Credentials, opts Options) (Connector, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[models.DatabaseType]Registration)
)

// Register is called by each family package's init().
// Thread-safe for concurrent init() calls.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredFamilies returns info for all registered connector families.
func RegisteredFamilies() []Info {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Info, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// IsRegistered checks whether a database family has a connector compiled in.
func IsRegistered(dbType models.DatabaseType) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[dbType]
	return ok
}

func getFactory(dbType models.DatabaseType) func(ctx context.Context, creds *crypto.Credentials, opts Options) (Connector, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dbType]; ok {
		return reg.Factory
	}
	return nil
}
