// Package broker fans hub events out to display subscribers. Each
// subscriber has a bounded queue drained by its own writer goroutine, so a
// slow display can never stall the broadcast path.
package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/liftnet/tracker/internal/hub"
	"github.com/liftnet/tracker/internal/metrics"
	"github.com/liftnet/tracker/internal/model"
)

// SendFunc delivers one serialized event to a subscriber. A non-nil error
// removes the subscriber.
type SendFunc func(data []byte) error

// Config tunes the broker.
type Config struct {
	// QueueSize bounds each subscriber's pending events; overflow drops the
	// oldest.
	QueueSize int
}

func DefaultConfig() Config {
	return Config{QueueSize: 64}
}

type subscriber struct {
	id          string
	send        SendFunc
	platform    model.PlatformID
	hasPlatform bool
	types       map[hub.EventType]bool // nil admits every type

	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// wants applies the filtering rules: global events go to everyone whose
// type filter admits them; platform events only to matching platform
// subscribers. A subscriber without a platform filter receives only global
// events.
func (s *subscriber) wants(ev hub.Event) bool {
	if s.types != nil && !s.types[ev.Type] {
		return false
	}
	if ev.Platform == "" {
		return true
	}
	return s.hasPlatform && s.platform == ev.Platform
}

// Broker is safe for concurrent use.
type Broker struct {
	cfg     Config
	hub     *hub.Hub
	metrics *metrics.Registry

	events <-chan hub.Event
	detach func()

	mu   sync.RWMutex
	subs []*subscriber
	byID map[string]*subscriber
}

// New attaches to the hub feed immediately, so events emitted between
// construction and Run are buffered rather than lost.
func New(cfg Config, h *hub.Hub, m *metrics.Registry) *Broker {
	b := &Broker{
		cfg:     cfg,
		hub:     h,
		metrics: m,
		byID:    make(map[string]*subscriber),
	}
	b.events, b.detach = h.Subscribe()
	return b
}

// Run broadcasts the hub feed until ctx is cancelled, then drains: all
// subscribers are closed.
func (b *Broker) Run(ctx context.Context) {
	defer b.detach()

	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return
		case ev, ok := <-b.events:
			if !ok {
				b.closeAll()
				return
			}
			b.broadcast(ev)
		}
	}
}

// Subscribe registers a display subscriber and starts its writer. The
// returned func detaches it; send failures detach it on their own.
func (b *Broker) Subscribe(send SendFunc, id string, platform string, types []string) func() {
	sub := &subscriber{
		id:    id,
		send:  send,
		queue: make(chan []byte, b.cfg.QueueSize),
		done:  make(chan struct{}),
	}
	if platform != "" {
		sub.platform = model.PlatformID(platform)
		sub.hasPlatform = true
	}
	if len(types) > 0 {
		sub.types = make(map[hub.EventType]bool, len(types))
		for _, t := range types {
			sub.types[hub.EventType(t)] = true
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.byID[id] = sub
	b.mu.Unlock()
	b.metrics.Subscribers.Inc()
	log.Info().Str("subscriber", id).Str("platform", platform).Msg("display subscribed")

	go b.writeLoop(sub)
	return func() { b.remove(sub) }
}

// Count returns the number of attached subscribers.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// broadcast serializes once and enqueues to every matching subscriber in
// registration order.
func (b *Broker) broadcast(ev hub.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", string(ev.Type)).Msg("event serialization failed")
		return
	}
	b.metrics.BroadcastsTotal.WithLabelValues(string(ev.Type)).Inc()

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.wants(ev) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.enqueue(sub, data)
	}
}

// enqueue never blocks: when the queue is full the oldest pending event is
// dropped to make room.
func (b *Broker) enqueue(sub *subscriber, data []byte) {
	for {
		select {
		case sub.queue <- data:
			return
		default:
		}
		select {
		case <-sub.queue:
			b.metrics.EventsDropped.Inc()
			log.Debug().Str("subscriber", sub.id).Msg("subscriber queue full, oldest event dropped")
		default:
		}
	}
}

func (b *Broker) writeLoop(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case data := <-sub.queue:
			if err := sub.send(data); err != nil {
				log.Info().Err(err).Str("subscriber", sub.id).Msg("send failed, removing subscriber")
				b.remove(sub)
				return
			}
		}
	}
}

func (b *Broker) remove(sub *subscriber) {
	b.mu.Lock()
	if _, ok := b.byID[sub.id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.byID, sub.id)
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	sub.close()
	b.metrics.Subscribers.Dec()
	log.Info().Str("subscriber", sub.id).Msg("display unsubscribed")
}

func (b *Broker) closeAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.byID = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
		b.metrics.Subscribers.Dec()
	}
}
