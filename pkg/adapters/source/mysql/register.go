package mysql

import (
	"context"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/models"
)

func init() {
	source.Register(source.Registration{
		Info: source.Info{
			Type:        models.DatabaseMySQL,
			DisplayName: "MySQL",
			Description: "Connect to MySQL 5.7+, MariaDB, Aurora MySQL",
		},
		Factory: func(ctx context.Context, creds *crypto.Credentials, opts source.Options) (source.Connector, error) {
			return New(ctx, creds, opts)
		},
	})
}
