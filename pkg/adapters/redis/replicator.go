package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Replicator implements ports.Replicator over Redis pub/sub.
//
// Events are JSON encoded on a single channel. Subscribers receive them on a background
// goroutine; hosts that drive an instance from one goroutine should hand the events over
// (for example through arbor.MainQueue) before calling ApplyReplicatedTransition.
type Replicator struct {
	client  *backend.Client
	channel string
	logger  *slog.Logger
}

// ReplicatorOption configures a Replicator.
type ReplicatorOption func(*Replicator)

// WithChannel sets the pub/sub channel name.
func WithChannel(channel string) ReplicatorOption {
	return func(r *Replicator) {
		r.channel = channel
	}
}

// WithLogger sets the logger used for undecodable messages.
func WithLogger(logger *slog.Logger) ReplicatorOption {
	return func(r *Replicator) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReplicator creates a replicator on the default channel.
func NewReplicator(client *backend.Client, opts ...ReplicatorOption) *Replicator {
	r := &Replicator{
		client:  client,
		channel: DefaultPrefix + "transitions",
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Channel returns the pub/sub channel name.
func (r *Replicator) Channel() string { return r.channel }

// Publish broadcasts ev to every subscriber of the channel.
func (r *Replicator) Publish(ctx context.Context, ev *domain.TransitionTakenEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal transition event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish transition event: %w", err)
	}
	return nil
}

// Subscribe delivers every event published on the channel to fn until the returned
// function is called or ctx is done. The subscription is confirmed before Subscribe
// returns, so events published afterwards are not missed.
func (r *Replicator) Subscribe(ctx context.Context, fn func(context.Context, *domain.TransitionTakenEvent)) (func() error, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	msgs := sub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.TransitionTakenEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.Warn("dropping undecodable transition event", "channel", r.channel, "err", err)
					continue
				}
				fn(ctx, &ev)
			}
		}
	}()

	return func() error {
		err := sub.Close()
		<-done
		return err
	}, nil
}
