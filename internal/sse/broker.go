// Package sse implements a Server-Sent Events broker that pushes recipe
// changes to connected clients.
package sse

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/cookshelf/internal/models"
)

// Event is a message broadcast to every subscriber.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event types sent for recipe changes. Every recipe event is followed by a
// throttled EventIndexUpdated telling clients to refetch the listing.
const (
	EventRecipeCreated = "recipe.created"
	EventRecipeUpdated = "recipe.updated"
	EventRecipeDeleted = "recipe.deleted"
	EventRecipeMoved   = "recipe.moved"
	EventIndexUpdated  = "index.updated"
)

var recipeEventTypes = map[string]string{
	models.EventCreated: EventRecipeCreated,
	models.EventUpdated: EventRecipeUpdated,
	models.EventDeleted: EventRecipeDeleted,
	models.EventMoved:   EventRecipeMoved,
}

const (
	defaultIndexThrottle = 2 * time.Second
	defaultHeartbeat     = 30 * time.Second
	defaultClientBuffer  = 64
	// retryMillis is the reconnect delay suggested to EventSource clients.
	retryMillis = 3000
)

// Option configures a Broker.
type Option func(*Broker)

// WithIndexThrottle sets the minimum interval between index.updated events.
func WithIndexThrottle(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.indexMin = d
		}
	}
}

// WithHeartbeat sets how often idle streams receive a keep-alive comment.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// WithClientBuffer sets how many undelivered messages a client may queue
// before further messages to it are dropped.
func WithClientBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// Broker fans events out to subscribers.
//
// A single event loop owns the subscriber set and the index throttle clock;
// public methods talk to it over channels.
type Broker struct {
	indexMin  time.Duration
	heartbeat time.Duration
	bufSize   int

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	recipeCh      chan models.RecipeEvent
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. Close stops it.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		indexMin:      defaultIndexThrottle,
		heartbeat:     defaultHeartbeat,
		bufSize:       defaultClientBuffer,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		recipeCh:      make(chan models.RecipeEvent, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

// encode renders ev in the text/event-stream wire format. The id lets
// EventSource clients report the last event they saw.
func encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("id: ")
	buf.WriteString(uuid.NewString())
	buf.WriteString("\nevent: ")
	buf.WriteString(ev.Type)
	buf.WriteString("\ndata: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// hub is the state owned by the event loop.
type hub struct {
	clients   map[chan []byte]struct{}
	lastIndex time.Time
}

func (h *hub) broadcast(ev Event) {
	msg, err := encode(ev)
	if err != nil {
		return
	}
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// Slow client; drop rather than stall the loop.
		}
	}
}

func (h *hub) recipe(ev models.RecipeEvent, indexMin time.Duration) {
	typ, ok := recipeEventTypes[ev.Kind]
	if !ok {
		return
	}
	h.broadcast(Event{Type: typ, Data: ev})

	now := time.Now()
	if now.Sub(h.lastIndex) >= indexMin {
		h.lastIndex = now
		h.broadcast(Event{Type: EventIndexUpdated, Data: map[string]string{}})
	}
}

func (b *Broker) run() {
	defer close(b.stopped)

	h := &hub{clients: make(map[chan []byte]struct{})}
	for {
		select {
		case <-b.stopCh:
			for ch := range h.clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			h.clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}

		case ev := <-b.publishCh:
			h.broadcast(ev)

		case ev := <-b.recipeCh:
			h.recipe(ev, b.indexMin)

		case resp := <-b.countReqCh:
			resp <- len(h.clients)
		}
	}
}

// Close stops the event loop and closes every subscriber channel. It is safe
// to call more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. The returned channel is closed when the
// client unsubscribes or the broker closes.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, b.bufSize)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishRecipeEvent publishes a recipe change followed, at most once per
// throttle interval, by index.updated. Unknown kinds are dropped.
func (b *Broker) PublishRecipeEvent(ev models.RecipeEvent) {
	if b.closed.Load() {
		return
	}
	select {
	case b.recipeCh <- ev:
	case <-b.stopped:
	}
}

// ServeHTTP streams events to one client (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("retry: " + strconv.Itoa(retryMillis) + "\n\n"))
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
