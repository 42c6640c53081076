// Package redistransport implements the §4.4 transport contract over
// Redis pub/sub, exercising the lifecycle template's statistics
// against a real broker client. The lifecycle template keeps no
// connection pool.
package redistransport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/conduit-bus/conduit/internal/message"
	"github.com/conduit-bus/conduit/internal/transport"
)

// Transport is a Redis pub/sub-backed binding: Send publishes the
// JSON-encoded envelope to the destination channel, Subscribe opens a
// plain (non-pattern) Subscribe on the source channel and decodes each
// message back into
// a TransportMessage before handing it to Base's deliver closure.
type Transport struct {
	*transport.Base

	client  *redis.Client
	pubsubs map[string]*redis.PubSub
}

// New builds a redis-backed transport against the given client
// options. The client is created here; ConnectCore only pings it, so
// Connect's failure accounting in the lifecycle template applies to
// that initial ping.
func New(name string, opts *redis.Options) *Transport {
	t := &Transport{pubsubs: make(map[string]*redis.PubSub), client: redis.NewClient(opts)}
	t.Base = transport.NewBase(name, t)
	return t
}

func (t *Transport) ConnectCore(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *Transport) DisconnectCore(ctx context.Context) error {
	for _, ps := range t.pubsubs {
		_ = ps.Close()
	}
	t.pubsubs = make(map[string]*redis.PubSub)
	return t.client.Close()
}

func (t *Transport) SendCore(ctx context.Context, msg *message.TransportMessage, destination string) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return t.client.Publish(ctx, destination, payload).Err()
}

func (t *Transport) SubscribeCore(ctx context.Context, source string, deliver func(*message.TransportMessage)) (func() error, error) {
	ps := t.client.Subscribe(ctx, source)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", source, err)
	}
	t.pubsubs[source] = ps

	ch := ps.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var tm message.TransportMessage
				if err := json.Unmarshal([]byte(m.Payload), &tm); err != nil {
					continue
				}
				deliver(&tm)
			}
		}
	}()

	return func() error {
		close(done)
		return ps.Close()
	}, nil
}
