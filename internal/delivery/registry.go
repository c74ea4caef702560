// Package delivery pushes notifications to connected clients and keeps the
// ones that could not be delivered until the client reconnects or polls.
package delivery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/elwassit-org/api-translation-wasslago/internal/observability"
)

// Close codes sent to retired channels.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// Channel is one live duplex connection to a client.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
	Close(code int, reason string) error
}

// Options configure a Registry.
type Options struct {
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	SweepInterval     time.Duration
	SendTimeout       time.Duration
	MaxAttempts       int
	PendingTTL        time.Duration
}

// DefaultOptions returns the default registry configuration.
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 30 * time.Second,
		StaleAfter:        90 * time.Second,
		SweepInterval:     60 * time.Second,
		SendTimeout:       10 * time.Second,
		MaxAttempts:       DefaultMaxAttempts,
		PendingTTL:        DefaultPendingTTL,
	}
}

type connection struct {
	ch            Channel
	lastHeartbeat time.Time
}

// SweepResult reports what one sweep removed.
type SweepResult struct {
	EvictedChannels int
	PurgedMessages  int
}

// Registry tracks at most one active channel per identity and falls back to
// the MessageStore when a notification cannot be delivered. The lock guards
// only the connection map; channel and store I/O happen outside it.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*connection

	store  MessageStore
	opts   Options
	logger *observability.Logger
	now    func() time.Time
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store MessageStore, opts Options, logger *observability.Logger) *Registry {
	def := DefaultOptions()
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = def.HeartbeatInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 3 * opts.HeartbeatInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = def.SendTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = def.PendingTTL
	}
	if logger == nil {
		logger = observability.NewNop()
	}

	return &Registry{
		conns:  make(map[string]*connection),
		store:  store,
		opts:   opts,
		logger: logger.WithOperation("delivery"),
		now:    time.Now,
	}
}

// Connect registers ch as the active channel for identity. A previous
// channel is closed with a normal-closure code before ch is registered.
// Pending messages are then flushed oldest first; the flush stops at the
// first failure so later messages never overtake a retained one.
func (r *Registry) Connect(ctx context.Context, identity string, ch Channel) int {
	log := r.logger.WithIdentity(identity)

	for {
		r.mu.Lock()
		old, ok := r.conns[identity]
		if !ok {
			r.conns[identity] = &connection{ch: ch, lastHeartbeat: r.now()}
			r.mu.Unlock()
			break
		}
		delete(r.conns, identity)
		r.mu.Unlock()

		if old.ch != ch {
			if err := old.ch.Close(CloseNormal, "replaced by a new connection"); err != nil {
				log.Debug().Err(err).Msg("Closing replaced channel failed")
			}
			log.Info().Msg("Retired previous channel")
		}
	}

	log.Info().Int("active_channels", r.ActiveCount()).Msg("Channel connected")
	return r.flush(ctx, identity, ch)
}

// Disconnect removes the active channel of identity, if any.
func (r *Registry) Disconnect(identity string) {
	r.mu.Lock()
	_, ok := r.conns[identity]
	delete(r.conns, identity)
	r.mu.Unlock()

	if ok {
		r.logger.WithIdentity(identity).Info().Msg("Channel disconnected")
	}
}

// DisconnectChannel removes ch only if it is still the active channel of
// identity. Connection handlers use it so a replaced handler cannot remove
// its successor.
func (r *Registry) DisconnectChannel(identity string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[identity]
	if !ok || conn.ch != ch {
		return false
	}
	delete(r.conns, identity)
	return true
}

// Touch refreshes the heartbeat of identity's active channel.
func (r *Registry) Touch(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[identity]; ok {
		conn.lastHeartbeat = r.now()
	}
}

// IsConnected reports whether identity has an active channel.
func (r *Registry) IsConnected(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.conns[identity]
	return ok
}

// ActiveCount returns the number of active channels.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.conns)
}

// Send delivers payload to identity's channel and reports whether it was
// delivered directly. Otherwise the payload is stored as pending. Delivery
// failures never surface as errors.
func (r *Registry) Send(ctx context.Context, identity string, payload any) bool {
	log := r.logger.WithIdentity(identity)

	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode notification")
		return false
	}

	if ch := r.liveChannel(identity); ch != nil {
		sendCtx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
		err := ch.Send(sendCtx, data)
		cancel()

		if err == nil {
			r.touchChannel(identity, ch)
			return true
		}

		log.Warn().Err(err).Msg("Direct send failed, dropping channel")
		if r.DisconnectChannel(identity, ch) {
			_ = ch.Close(CloseGoingAway, "send failed")
		}
	}

	r.enqueue(ctx, identity, data)
	return false
}

// Ping sends a heartbeat frame to every channel. A delivered frame refreshes
// the channel's heartbeat; channels that fail are evicted.
func (r *Registry) Ping(ctx context.Context) int {
	frame, _ := json.Marshal(map[string]string{"type": "heartbeat"})

	r.mu.Lock()
	targets := make(map[string]Channel, len(r.conns))
	for identity, conn := range r.conns {
		targets[identity] = conn.ch
	}
	r.mu.Unlock()

	failed := 0
	for identity, ch := range targets {
		sendCtx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
		err := ch.Send(sendCtx, frame)
		cancel()
		if err == nil {
			r.touchChannel(identity, ch)
			continue
		}
		failed++
		if r.DisconnectChannel(identity, ch) {
			_ = ch.Close(CloseGoingAway, "heartbeat failed")
		}
		r.logger.WithIdentity(identity).Warn().Err(err).Msg("Heartbeat failed, channel evicted")
	}
	return failed
}

// Sweep evicts channels whose heartbeat is older than StaleAfter and purges
// pending messages older than PendingTTL.
func (r *Registry) Sweep(ctx context.Context) SweepResult {
	now := r.now()
	var stale []Channel

	r.mu.Lock()
	for identity, conn := range r.conns {
		if now.Sub(conn.lastHeartbeat) > r.opts.StaleAfter {
			stale = append(stale, conn.ch)
			delete(r.conns, identity)
		}
	}
	r.mu.Unlock()

	for _, ch := range stale {
		_ = ch.Close(CloseGoingAway, "heartbeat timeout")
	}

	purged, err := r.store.Purge(ctx, now.Add(-r.opts.PendingTTL))
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to purge pending messages")
	}

	res := SweepResult{EvictedChannels: len(stale), PurgedMessages: purged}
	if res.EvictedChannels > 0 || res.PurgedMessages > 0 {
		r.logger.Info().
			Int("evicted_channels", res.EvictedChannels).
			Int("purged_messages", res.PurgedMessages).
			Msg("Sweep completed")
	}
	return res
}

// Run drives heartbeats and sweeps until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	heartbeat := time.NewTicker(r.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(r.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			r.Ping(ctx)
		case <-sweep.C:
			r.Sweep(ctx)
		}
	}
}

// GetPending returns identity's pending messages, oldest first.
func (r *Registry) GetPending(ctx context.Context, identity string) ([]PendingMessage, error) {
	msgs, err := r.store.List(ctx, identity)
	if err != nil {
		return nil, StoreError("list", err)
	}
	return msgs, nil
}

// ClearPending deletes identity's pending messages.
func (r *Registry) ClearPending(ctx context.Context, identity string) (int, error) {
	n, err := r.store.Clear(ctx, identity)
	if err != nil {
		return 0, StoreError("clear", err)
	}
	return n, nil
}

// CloseAll closes every active channel. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*connection)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.ch.Close(CloseGoingAway, "server shutting down")
	}
}

// liveChannel returns identity's channel unless it is missing or stale.
func (r *Registry) liveChannel(identity string) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[identity]
	if !ok {
		return nil
	}
	if r.now().Sub(conn.lastHeartbeat) > r.opts.StaleAfter {
		return nil
	}
	return conn.ch
}

func (r *Registry) touchChannel(identity string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[identity]; ok && conn.ch == ch {
		conn.lastHeartbeat = r.now()
	}
}

func (r *Registry) enqueue(ctx context.Context, identity string, data []byte) {
	log := r.logger.WithIdentity(identity)

	msg := NewPendingMessage(identity, data, r.opts.MaxAttempts, r.now())
	evicted, err := r.store.Enqueue(ctx, msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to store pending message")
		return
	}
	if evicted > 0 {
		log.Warn().Int("evicted", evicted).Msg("Pending queue full, dropped oldest")
	}
	log.Debug().Str("message_id", msg.ID).Msg("Notification stored as pending")
}

func (r *Registry) flush(ctx context.Context, identity string, ch Channel) int {
	log := r.logger.WithIdentity(identity)

	pending, err := r.store.List(ctx, identity)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load pending messages")
		return 0
	}

	delivered := 0
	for _, msg := range pending {
		sendCtx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
		err := ch.Send(sendCtx, msg.Payload)
		cancel()

		if err != nil {
			dropped, rerr := r.store.RecordFailure(ctx, identity, msg.ID)
			if rerr != nil {
				log.Error().Err(rerr).Msg("Failed to record delivery failure")
			}
			log.Warn().
				Err(err).
				Str("message_id", msg.ID).
				Bool("dropped", dropped).
				Msg("Pending flush failed")
			break
		}

		if err := r.store.Remove(ctx, identity, msg.ID); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to remove delivered message")
		}
		delivered++
	}

	if delivered > 0 {
		r.touchChannel(identity, ch)
		log.Info().Int("delivered", delivered).Msg("Flushed pending messages")
	}
	return delivered
}
