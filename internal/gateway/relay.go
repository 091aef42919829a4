package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

// Relay ops.
const (
	OpBroadcast = "broadcast"
	OpJoin      = "join"
	OpClose     = "close"
)

// Frame is one relayed item: a room broadcast, or a room membership change
// (a conversation opened or deleted on another node).
type Frame struct {
	Node    string `json:"node"`
	Op      string `json:"op"`
	Room    string `json:"room,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	// Conversation is set for OpJoin and OpClose.
	Conversation *domain.Conversation `json:"conversation,omitempty"`
}

// Relay carries frames between gateway nodes. The originating node always
// applies a frame locally first; Relay only reaches connections held by
// other nodes.
type Relay interface {
	Publish(ctx context.Context, f Frame) error
	// Run hands frames published by other nodes to apply until ctx ends.
	Run(ctx context.Context, apply func(Frame)) error
}

// LocalRelay is the single-node relay: nothing to forward.
type LocalRelay struct{}

func (LocalRelay) Publish(context.Context, Frame) error { return nil }

func (LocalRelay) Run(ctx context.Context, _ func(Frame)) error {
	<-ctx.Done()
	return nil
}

// DefaultRelayChannel is the pub/sub channel shared by all nodes.
const DefaultRelayChannel = "jobboard:gateway:rooms"

// RedisRelay fans frames out through a Redis pub/sub channel. Frames
// published by the same node are skipped on receipt.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	node    string
}

// NewRedisRelay returns a relay publishing on channel as node.
func NewRedisRelay(client redis.UniversalClient, channel, node string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{client: client, channel: channel, node: node}
}

// Publish sends f to the other nodes, stamped with this node's id.
func (r *RedisRelay) Publish(ctx context.Context, f Frame) error {
	f.Node = r.node
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, raw).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Run subscribes and hands foreign frames to apply.
func (r *RedisRelay) Run(ctx context.Context, apply func(Frame)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so that frames published
	// right after Run starts are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("relay subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var f Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("relay: dropping malformed frame")
				continue
			}
			if f.Node == r.node {
				continue
			}
			apply(f)
		}
	}
}
