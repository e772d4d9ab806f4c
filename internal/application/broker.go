package application

import (
	"context"
	"fmt"

	"thirdcoast.systems/retro/internal/config"
	"thirdcoast.systems/retro/internal/pubsub"
)

// OpenBroker connects the broker selected by HUB_BROKER. It returns nil for a
// standalone instance.
func OpenBroker(ctx context.Context, conf config.Config) (pubsub.Broker, error) {
	switch conf.HubBroker {
	case config.BrokerNone, "":
		return nil, nil
	case config.BrokerPostgres:
		pool, err := OpenDBPoolWithRetry(ctx, conf)
		if err != nil {
			return nil, err
		}
		return pubsub.NewPostgres(pool), nil
	case config.BrokerRedis:
		b, err := pubsub.NewRedis(ctx, conf.RedisURL)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported hub broker %q", conf.HubBroker)
	}
}
