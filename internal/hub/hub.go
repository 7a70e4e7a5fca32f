// Package hub fans attendance decisions out to live subscribers.
//
// Every subscriber owns a bounded queue drained by its own delivery goroutine,
// so a slow connection only ever stalls itself. When a queue is full the
// subscriber is disconnected; clients reconnect and reconcile from history.
package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("hub closed")

// Disconnect reasons.
const (
	reasonOverflow   = "overflow"
	reasonWriteError = "write_error"
)

// Conn is the transport of one subscriber. Both methods are only called from
// the subscriber's delivery goroutine, so publishers never wait on a
// transport. WriteMessage must return within a bounded time.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// Subscriber is one live connection registered with the hub.
type Subscriber struct {
	id    string
	conn  Conn
	queue chan []byte // never closed; done signals shutdown
	done  chan struct{}
	once  sync.Once
}

// ID returns the opaque connection id.
func (s *Subscriber) ID() string { return s.id }

// Done is closed once the subscriber has been removed from the hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Stats are cumulative hub counters.
type Stats struct {
	Subscribers  int    `json:"subscribers"`
	Published    uint64 `json:"published"`
	Delivered    uint64 `json:"delivered"`
	Overflows    uint64 `json:"overflows"`
	WriteErrors  uint64 `json:"write_errors"`
	Disconnected uint64 `json:"disconnected"`
}

// Hub is the registry of live subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool

	publishMu sync.Mutex // keeps enqueue order equal to Publish call order
	queueSize int
	wg        sync.WaitGroup

	published    atomic.Uint64
	delivered    atomic.Uint64
	overflows    atomic.Uint64
	writeErrors  atomic.Uint64
	disconnected atomic.Uint64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics reports hub activity to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithLogger sets the logger used for disconnects.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// New creates a hub whose subscribers buffer up to queueSize messages.
func New(queueSize int, opts ...Option) *Hub {
	if queueSize <= 0 {
		queueSize = constants.DefaultHubQueueSize
	}
	h := &Hub{
		subscribers: make(map[string]*Subscriber),
		queueSize:   queueSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers conn and starts its delivery goroutine. The connected
// confirmation is queued before the subscriber can receive any decision.
func (h *Hub) Subscribe(conn Conn) (*Subscriber, error) {
	sub := &Subscriber{
		id:    uuid.NewString(),
		conn:  conn,
		queue: make(chan []byte, h.queueSize+1),
		done:  make(chan struct{}),
	}
	sub.queue <- connectedFrame

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.subscribers[sub.id] = sub
	n := len(h.subscribers)
	h.wg.Add(1)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	go h.deliver(sub)
	return sub, nil
}

// Unsubscribe removes sub; its connection is closed by its delivery
// goroutine. It is idempotent.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.remove(sub, "")
}

func (h *Hub) remove(sub *Subscriber, reason string) {
	h.mu.Lock()
	_, ok := h.subscribers[sub.id]
	delete(h.subscribers, sub.id)
	n := len(h.subscribers)
	h.mu.Unlock()

	// The delivery goroutine closes the transport once it observes done.
	sub.once.Do(func() { close(sub.done) })

	if !ok {
		return
	}
	h.metrics.SetSubscribers(n)
	if reason != "" {
		h.disconnected.Add(1)
		h.metrics.IncrementDisconnects(reason)
		h.logger.Info("subscriber disconnected", "subscriber", sub.id, "reason", reason)
	}
}

// Publish queues d for every subscriber. It never blocks on a subscriber and
// never fails; subscribers whose queue is full are disconnected.
func (h *Hub) Publish(d *database.Decision) {
	h.Broadcast(EncodeDecision(d))
}

// Broadcast queues a pre-encoded frame for every subscriber.
func (h *Hub) Broadcast(frame []byte) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.published.Add(1)

	var overflowed []*Subscriber
	h.mu.RLock()
	for _, sub := range h.subscribers {
		select {
		case sub.queue <- frame:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range overflowed {
		h.overflows.Add(1)
		h.remove(sub, reasonOverflow)
	}
}

// HandleClientMessage processes a frame received from sub. Pings are answered
// with a pong on the same queue; anything else is ignored.
func (h *Hub) HandleClientMessage(sub *Subscriber, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != TypePing {
		return
	}
	select {
	case sub.queue <- pongFrame:
	case <-sub.done:
	default:
		h.overflows.Add(1)
		h.remove(sub, reasonOverflow)
	}
}

func (h *Hub) deliver(sub *Subscriber) {
	defer h.wg.Done()
	defer sub.conn.Close()
	for {
		select {
		case <-sub.done:
			return
		case frame := <-sub.queue:
			select {
			case <-sub.done:
				return
			default:
			}
			if err := sub.conn.WriteMessage(frame); err != nil {
				select {
				case <-sub.done:
				default:
					h.writeErrors.Add(1)
					h.remove(sub, reasonWriteError)
				}
				return
			}
			h.delivered.Add(1)
			h.metrics.IncrementDeliveries()
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers:  h.Len(),
		Published:    h.published.Load(),
		Delivered:    h.delivered.Load(),
		Overflows:    h.overflows.Load(),
		WriteErrors:  h.writeErrors.Load(),
		Disconnected: h.disconnected.Load(),
	}
}

// Close disconnects every subscriber and waits for their delivery goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.Unsubscribe(sub)
	}
	h.wg.Wait()
}
