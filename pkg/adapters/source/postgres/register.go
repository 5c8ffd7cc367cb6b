package postgres

import (
	"context"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/models"
)

func init() {
	source.Register(source.Registration{
		Info: source.Info{
			Type:        models.DatabasePostgres,
			DisplayName: "PostgreSQL",
			Description: "Connect to PostgreSQL 12+, Aurora PostgreSQL, Supabase",
		},
		Factory: func(ctx context.Context, creds *crypto.Credentials, opts source.Options) (source.Connector, error) {
			return New(ctx, creds, opts)
		},
	})
}
