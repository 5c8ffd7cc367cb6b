package mongodb

import (
	"context"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/models"
)

func init() {
	source.Register(source.Registration{
		Info: source.Info{
			Type:        models.DatabaseMongoDB,
			DisplayName: "MongoDB",
			Description: "Connect to MongoDB 4.4+ and Atlas; collections sync as tables",
		},
		Factory: func(ctx context.Context, creds *crypto.Credentials, opts source.Options) (source.Connector, error) {
			return New(ctx, creds, opts)
		},
	})
}
