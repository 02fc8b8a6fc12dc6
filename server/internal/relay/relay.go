package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/docsync/docsync/server/internal/config"
)

// DeliverFunc hands a frame received from another node to local room members.
type DeliverFunc func(docID string, data []byte) int

// envelope wraps a frame with the id of the node that published it.
type envelope struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// Relay fans document and cursor frames out between server nodes over Redis
// pub/sub. It satisfies ws.Publisher.
type Relay struct {
	client  *redis.Client
	prefix  string
	node    string
	deliver DeliverFunc
}

// New creates a Relay for cfg. The Redis connection is established lazily.
func New(cfg config.RelayConfig, deliver DeliverFunc) *Relay {
	return &Relay{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password(),
		}),
		prefix:  cfg.ChannelPrefix,
		node:    uuid.NewString(),
		deliver: deliver,
	}
}

// Node returns this process's relay origin id.
func (r *Relay) Node() string { return r.node }

// Ping verifies the Redis connection.
func (r *Relay) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("relay: ping %s: %w", r.client.Options().Addr, err)
	}
	return nil
}

// Publish sends data to every other node subscribed to docID's channel.
func (r *Relay) Publish(ctx context.Context, docID string, data []byte) error {
	b, err := json.Marshal(envelope{Origin: r.node, Data: data})
	if err != nil {
		return fmt.Errorf("relay: encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel(docID), b).Err(); err != nil {
		return fmt.Errorf("relay: publish %s: %w", docID, err)
	}
	return nil
}

// Run subscribes to all document channels and delivers frames from other
// nodes until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, r.pattern())
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", r.pattern(), err)
	}
	slog.Info("relay: subscribed", "pattern", r.pattern(), "node", r.node)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Channel, []byte(msg.Payload))
		}
	}
}

// Close releases the Redis client.
func (r *Relay) Close() error {
	return r.client.Close()
}

// handle decodes one pub/sub message and delivers it unless this node sent it.
func (r *Relay) handle(channel string, payload []byte) {
	docID, ok := r.docID(channel)
	if !ok {
		slog.Warn("relay: unexpected channel", "channel", channel)
		return
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || len(env.Data) == 0 {
		slog.Warn("relay: malformed envelope", "channel", channel, "err", err)
		return
	}
	if env.Origin == r.node {
		return
	}
	n := r.deliver(docID, env.Data)
	slog.Debug("relay: delivered", "doc", docID, "origin", env.Origin, "recipients", n)
}

func (r *Relay) channel(docID string) string {
	return r.prefix + ":doc:" + docID
}

func (r *Relay) pattern() string {
	return r.prefix + ":doc:*"
}

func (r *Relay) docID(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, r.prefix+":doc:")
	return id, ok && id != ""
}
