// Package relay forwards attendance frames between server instances over Redis pub/sub.
//
// Decisions committed on one instance reach every subscriber in commit order.
// Frames from different instances are broadcast in arrival order, so across
// instances a subscriber may see a higher decision id before a lower one.
// Clients that need a total order sort by id or reconcile from history.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/hub"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "attendance:decisions"

const outboxSize = 256

// Broadcaster delivers an encoded frame to local subscribers.
type Broadcaster interface {
	Broadcast(frame []byte)
}

// envelope is the pub/sub payload. Origin lets an instance skip its own frames.
type envelope struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// Relay publishes local decisions to Redis and replays remote ones on the local hub.
type Relay struct {
	client   *redis.Client
	channel  string
	instance string
	local    Broadcaster
	outbox   chan []byte
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithMetrics records received frames.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// Connect parses url, checks the connection and returns a client.
// Returns nil if the URL is empty (relay not configured).
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// New creates a relay on channel that replays remote frames to local.
func New(client *redis.Client, channel string, local Broadcaster, opts ...Option) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	r := &Relay{
		client:   client,
		channel:  channel,
		instance: uuid.NewString(),
		local:    local,
		outbox:   make(chan []byte, outboxSize),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Instance returns the id this relay stamps on outgoing frames.
func (r *Relay) Instance() string { return r.instance }

// Publish queues d for other instances. It never blocks; frames are dropped
// when the outbox is full.
func (r *Relay) Publish(d *database.Decision) {
	payload, err := json.Marshal(envelope{Origin: r.instance, Frame: hub.EncodeDecision(d)})
	if err != nil {
		r.logger.Error("relay: encoding envelope", "decision", d.ID, "error", err)
		return
	}
	select {
	case r.outbox <- payload:
	default:
		r.logger.Warn("relay: outbox full, dropping decision", "decision", d.ID)
	}
}

// Run subscribes to the channel and drains the outbox until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription confirmation so nothing published after Run starts is missed.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed", "channel", r.channel, "instance", r.instance)

	incoming := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-r.outbox:
			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				r.logger.Error("relay: publish failed", "error", err)
			}
		case msg, ok := <-incoming:
			if !ok {
				return errors.New("relay: subscription closed")
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *Relay) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("relay: invalid envelope", "error", err)
		return
	}
	if env.Origin == r.instance || len(env.Frame) == 0 {
		return
	}
	r.metrics.IncrementRelayReceived()
	r.local.Broadcast(env.Frame)
}

// Fanout publishes every decision to each of its publishers in order.
type Fanout []interface {
	Publish(d *database.Decision)
}

// Publish forwards d to every publisher.
func (f Fanout) Publish(d *database.Decision) {
	for _, p := range f {
		p.Publish(d)
	}
}
