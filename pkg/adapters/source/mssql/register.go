package mssql

import (
	"context"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/models"
)

func init() {
	source.Register(source.Registration{
		Info: source.Info{
			Type:        models.DatabaseSQLServer,
			DisplayName: "SQL Server",
			Description: "Connect to SQL Server 2016+ and Azure SQL with SQL authentication",
		},
		Factory: func(ctx context.Context, creds *crypto.Credentials, opts source.Options) (source.Connector, error) {
			return New(ctx, creds, opts)
		},
	})
}
