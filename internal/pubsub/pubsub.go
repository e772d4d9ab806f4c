// Package pubsub carries messages between independently running hub
// instances. Every instance publishes to and subscribes on the same topic;
// a message is delivered to all subscribers, including its publisher.
package pubsub

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("pubsub: broker closed")

// Broker is a topic based broadcast channel.
type Broker interface {
	// Publish sends msg to every current subscriber of topic.
	Publish(ctx context.Context, topic string, msg []byte) error
	// Subscribe returns a stream of messages published to topic. The stream
	// is closed when ctx is done or the broker is closed. The subscription is
	// active by the time Subscribe returns.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	// Close releases the broker's connections.
	Close() error
}

const subscriberBuffer = 256
