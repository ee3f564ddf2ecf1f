package hub

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/liftnet/tracker/internal/model"
)

// IngestDatabase stores a snapshot. Single-flight: a second call while one
// is in progress is rejected with already_loading. A checksum matching the
// current snapshot is a no-op success (cached=true); without a checksum a
// recently completed load short-circuits the same way.
func (h *Hub) IngestDatabase(db *model.Database) Result {
	select {
	case <-h.loadTok:
	default:
		h.mu.RLock()
		started := h.loadStartedAt
		h.mu.RUnlock()
		log.Warn().Time("started", started).Msg("database load already in progress")
		return Result{Reason: ReasonAlreadyLoading}
	}
	defer func() { h.loadTok <- struct{}{} }()

	h.mu.Lock()
	h.loadStartedAt = time.Now()
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.loadStartedAt = time.Time{}
		h.mu.Unlock()
	}()

	if db == nil || db.Athletes == nil {
		return Result{Reason: ReasonInvalidDataStructure}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if db.Checksum != "" && db.Checksum == h.lastDatabaseChecksum {
		log.Debug().Str("checksum", db.Checksum).Msg("database checksum unchanged")
		return Result{Accepted: true, Cached: true}
	}
	if db.Checksum == "" && h.db != nil && now.Sub(h.dbLoadedAt) < h.cfg.RecentLoadWindow {
		log.Debug().Msg("database reloaded within recent-load window, skipping")
		return Result{Accepted: true, Cached: true}
	}

	if db.Competition.Name == "" && h.pendingCompetition != nil {
		db.Competition = *h.pendingCompetition
	}
	h.pendingCompetition = nil

	h.db = db
	h.lastDatabaseChecksum = db.Checksum
	h.dbLoadedAt = now
	h.stateVersion++
	h.messagesByType["database"]++

	if h.registry != nil {
		h.registry.Bump()
	}

	if !h.initialized[db.Checksum] {
		h.initialized[db.Checksum] = true
		h.emitLocked(Event{
			Type:      EventCompetitionInitialized,
			Timestamp: now,
			Data: map[string]any{
				"competitionName": db.Competition.Name,
				"athletes":        len(db.Athletes),
			},
		})
	}
	h.emitLocked(Event{Type: EventHubReady, Timestamp: now})

	log.Info().
		Str("competition", db.Competition.Name).
		Int("athletes", len(db.Athletes)).
		Str("checksum", db.Checksum).
		Msg("database snapshot loaded")
	return Result{Accepted: true}
}

// SetCompetitionMetadata stores competition metadata without athletes,
// for the empty-database sentinel: the full snapshot arrives as a binary
// database_zip shortly after. With no snapshot yet (cold start, the
// sentinel's usual case) the metadata is held pending and applied when the
// snapshot lands; DatabaseLoaded stays false until then.
func (h *Hub) SetCompetitionMetadata(comp model.Competition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingCompetition = &comp
	if h.db != nil {
		h.db.Competition = comp
	}
	log.Info().Str("competition", comp.Name).Msg("competition metadata received, awaiting binary snapshot")
}

// Competition returns the current competition metadata: the snapshot's when
// one is loaded, otherwise whatever the sentinel announced.
func (h *Hub) Competition() model.Competition {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.db != nil {
		return h.db.Competition
	}
	if h.pendingCompetition != nil {
		return *h.pendingCompetition
	}
	return model.Competition{}
}

// GetDatabaseState returns the currently published snapshot, nil before
// the first load. The snapshot is replaced whole on ingest; callers may
// hold the pointer for the duration of a request.
func (h *Hub) GetDatabaseState() *model.Database {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.db
}
