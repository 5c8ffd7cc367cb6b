package oracle

import (
	"context"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/models"
)

func init() {
	source.Register(source.Registration{
		Info: source.Info{
			Type:        models.DatabaseOracle,
			DisplayName: "Oracle",
			Description: "Connect to Oracle Database 12c+ by service name or SID",
		},
		Factory: func(ctx context.Context, creds *crypto.Credentials, opts source.Options) (source.Connector, error) {
			return New(ctx, creds, opts)
		},
	})
}
