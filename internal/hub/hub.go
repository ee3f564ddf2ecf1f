// Package hub is the authoritative in-memory competition state: the
// database snapshot, per-platform update state, translations, asset
// readiness and the event feed the broker fans out.
package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/liftnet/tracker/internal/cache"
	"github.com/liftnet/tracker/internal/model"
)

// Config tunes the hub's timing windows.
type Config struct {
	// DebounceWindow drops a repeat of the same <platform>-<eventType>
	// emission inside the window.
	DebounceWindow time.Duration
	// RequestSuppression absorbs duplicate precondition re-requests.
	RequestSuppression time.Duration
	// RecentLoadWindow short-circuits checksum-less database reloads.
	RecentLoadWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		DebounceWindow:     100 * time.Millisecond,
		RequestSuppression: time.Second,
		RecentLoadWindow:   2 * time.Second,
	}
}

type fopEntry struct {
	update      model.FopUpdate
	state       SessionState
	sessionDone bool
	groupName   string
	lastUpdate  time.Time
}

// Hub is safe for concurrent use. All mutations run under mu; reads that
// need a consistent view take the read lock.
type Hub struct {
	cfg      Config
	registry *cache.Registry

	mu sync.RWMutex

	db                   *model.Database
	lastDatabaseChecksum string
	dbLoadedAt           time.Time
	initialized          map[string]bool

	// pendingCompetition holds sentinel metadata received before any
	// snapshot; it is folded into the next nameless snapshot.
	pendingCompetition *model.Competition

	// loadTok is the single-flight token for database loads; holding it is
	// the only way to replace the snapshot.
	loadTok       chan struct{}
	loadStartedAt time.Time

	// rawLocales keeps translations exactly as ingested so base-locale
	// updates can re-derive regional variants. effective holds the merged,
	// reference-stable maps handed to readers.
	rawLocales           map[string]map[string]string
	effective            map[string]map[string]string
	translationsChecksum string

	flagsLoaded    bool
	picturesLoaded bool
	stylesLoaded   bool

	requestedAt map[string]time.Time

	fops map[model.PlatformID]*fopEntry

	debounce map[string]time.Time

	firstConnectDone bool
	stateVersion     int64
	messagesByType   map[string]int64

	listeners    map[int]chan Event
	nextListener int
}

func New(cfg Config, registry *cache.Registry) *Hub {
	tok := make(chan struct{}, 1)
	tok <- struct{}{}
	return &Hub{
		cfg:            cfg,
		registry:       registry,
		initialized:    make(map[string]bool),
		loadTok:        tok,
		rawLocales:     make(map[string]map[string]string),
		effective:      make(map[string]map[string]string),
		requestedAt:    make(map[string]time.Time),
		fops:           make(map[model.PlatformID]*fopEntry),
		debounce:       make(map[string]time.Time),
		messagesByType: make(map[string]int64),
		listeners:      make(map[int]chan Event),
	}
}

// Subscribe attaches a listener to the event feed. A synthetic initial
// event is replayed first so late joiners never see a gap: hub_ready when
// a database is loaded, waiting otherwise. The returned func detaches.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	id := h.nextListener
	h.nextListener++
	ch := make(chan Event, 256)
	h.listeners[id] = ch

	initial := Event{Type: EventWaiting, Timestamp: time.Now()}
	if h.db != nil {
		initial.Type = EventHubReady
	}
	ch <- initial
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if c, ok := h.listeners[id]; ok {
			delete(h.listeners, id)
			close(c)
		}
		h.mu.Unlock()
	}
}

// emitLocked dispatches an event to all listeners, applying the per
// <platform>-<eventType> debounce. Callers hold mu.
func (h *Hub) emitLocked(ev Event) {
	key := fmt.Sprintf("%s-%s", ev.Platform, ev.Type)
	now := ev.Timestamp
	if last, ok := h.debounce[key]; ok && now.Sub(last) < h.cfg.DebounceWindow {
		log.Debug().Str("key", key).Msg("event debounced")
		return
	}
	h.debounce[key] = now

	for _, ch := range h.listeners {
		select {
		case ch <- ev:
		default:
			// Listener is saturated; hub emission never blocks.
			log.Warn().Str("type", string(ev.Type)).Msg("listener queue full, event dropped")
		}
	}
}

// EmitProtocolError publishes a version-dispute event for the displays.
func (h *Hub) EmitProtocolError(received, minimum string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitLocked(Event{
		Type:      EventProtocolError,
		Timestamp: time.Now(),
		Data:      map[string]any{"received": received, "minimum": minimum},
	})
}

// EmitProtocolOK signals a successful version handshake.
func (h *Hub) EmitProtocolOK(version string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitLocked(Event{
		Type:      EventProtocolOK,
		Timestamp: time.Now(),
		Data:      map[string]any{"version": version},
	})
}

// FirstConnectReset runs once per process, on the first source connection:
// the database, translations and asset readiness are dropped and the cache
// epoch bumps. Later reconnects keep state and rely on checksums.
func (h *Hub) FirstConnectReset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.firstConnectDone {
		return
	}
	h.firstConnectDone = true

	h.db = nil
	h.lastDatabaseChecksum = ""
	h.dbLoadedAt = time.Time{}
	h.pendingCompetition = nil
	h.rawLocales = make(map[string]map[string]string)
	h.effective = make(map[string]map[string]string)
	h.translationsChecksum = ""
	h.flagsLoaded = false
	h.picturesLoaded = false
	h.stylesLoaded = false
	h.stateVersion++

	if h.registry != nil {
		h.registry.Bump()
	}
	log.Info().Msg("first source connection: state reset, cache epoch bumped")
}

// Refresh clears the snapshot and drops every platform to INACTIVE. Used
// when the source disconnects; displays get a waiting event.
func (h *Hub) Refresh() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.db = nil
	h.lastDatabaseChecksum = ""
	h.dbLoadedAt = time.Time{}
	h.pendingCompetition = nil
	for _, entry := range h.fops {
		entry.state = SessionInactive
		entry.sessionDone = false
	}
	h.stateVersion++

	h.emitLocked(Event{Type: EventWaiting, Timestamp: time.Now()})
	log.Info().Msg("hub refreshed, waiting for source")
}

// Asset readiness (assets.HubSink).

func (h *Hub) SetFlagsLoaded() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flagsLoaded = true
	delete(h.requestedAt, PreconditionFlags)
}

func (h *Hub) SetPicturesLoaded() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.picturesLoaded = true
}

func (h *Hub) SetStylesLoaded() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stylesLoaded = true
}

// Readiness is the status-endpoint view of the hub's loaded resources.
type Readiness struct {
	DatabaseLoaded     bool `json:"databaseLoaded"`
	TranslationsLoaded bool `json:"translationsLoaded"`
	FlagsLoaded        bool `json:"flagsLoaded"`
	PicturesLoaded     bool `json:"picturesLoaded"`
	StylesLoaded       bool `json:"stylesLoaded"`
}

func (h *Hub) GetReadiness() Readiness {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Readiness{
		DatabaseLoaded:     h.db != nil,
		TranslationsLoaded: len(h.effective) > 0,
		FlagsLoaded:        h.flagsLoaded,
		PicturesLoaded:     h.picturesLoaded,
		StylesLoaded:       h.stylesLoaded,
	}
}

// StateVersion increments on every mutation that can change plugin output;
// plugin cache keys include it.
func (h *Hub) StateVersion() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stateVersion
}

// MessageCounts returns per-frame-type processed counters.
func (h *Hub) MessageCounts() map[string]int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int64, len(h.messagesByType))
	for k, v := range h.messagesByType {
		out[k] = v
	}
	return out
}

// GetMissingPreconditions lists what still blocks live updates.
func (h *Hub) GetMissingPreconditions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.missingLocked()
}

// missingLocked computes the precondition list. flags stays on the list
// until an archive has actually been extracted, even if it was already
// requested.
func (h *Hub) missingLocked() []string {
	var missing []string
	if h.db == nil {
		missing = append(missing, PreconditionDatabase)
	}
	if len(h.effective) == 0 {
		missing = append(missing, PreconditionTranslations)
	}
	if !h.flagsLoaded {
		missing = append(missing, PreconditionFlags)
	}
	return missing
}

// recordRequestedLocked stamps each missing item, suppressing re-stamps
// inside the suppression window so source retries do not thrash.
func (h *Hub) recordRequestedLocked(missing []string, now time.Time) {
	for _, item := range missing {
		if last, ok := h.requestedAt[item]; ok && now.Sub(last) < h.cfg.RequestSuppression {
			continue
		}
		h.requestedAt[item] = now
	}
}

// RequestedAt exposes the request stamp for one precondition (testing and
// diagnostics).
func (h *Hub) RequestedAt(item string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.requestedAt[item]
	return t, ok
}
