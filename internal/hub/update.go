package hub

import (
	"time"

	"github.com/liftnet/tracker/internal/model"
)

// IngestUpdate merges an update/timer/decision payload into the platform's
// state. The merge always happens, even when preconditions are missing, so
// the state is current the moment the last precondition lands; the 428 is
// only about whether an event goes out.
func (h *Hub) IngestUpdate(platform model.PlatformID, payload map[string]any, kind UpdateKind) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	entry, ok := h.fops[platform]
	if !ok {
		entry = &fopEntry{state: SessionInactive}
		h.fops[platform] = entry
	}

	entry.update.Merge(payload)
	if !now.Before(entry.lastUpdate) {
		entry.lastUpdate = now
		entry.update.LastUpdate = now
	}
	h.stateVersion++
	h.messagesByType[kindName(kind)]++

	h.advanceSessionLocked(entry, groupDoneSignal(payload))

	if missing := h.missingLocked(); len(missing) > 0 {
		h.recordRequestedLocked(missing, now)
		return Result{Reason: ReasonMissingPreconditions, Missing: missing}
	}

	h.emitLocked(Event{
		Type:      kind.eventType(),
		Platform:  platform,
		Timestamp: now,
		Data:      eventData(&entry.update),
	})
	return Result{Accepted: true}
}

// groupDoneSignal reports whether the incoming payload itself announces the
// end of a group. The merged state cannot be used here: a later frame that
// simply omits uiEvent would still carry the old GroupDone value.
func groupDoneSignal(payload map[string]any) bool {
	if v, ok := payload["uiEvent"].(string); ok && v == model.UIEventGroupDone {
		return true
	}
	if v, ok := payload["breakType"].(string); ok && v == model.BreakTypeGroupDone {
		return true
	}
	return false
}

// advanceSessionLocked runs the per-platform state machine. groupDone is the
// incoming frame's signal; any other update/timer/decision restarts a done
// session.
func (h *Hub) advanceSessionLocked(entry *fopEntry, groupDone bool) {
	switch {
	case groupDone:
		entry.sessionDone = true
		entry.groupName = entry.update.GroupName
		entry.state = SessionDone
	case entry.state == SessionDone:
		// Any non-GroupDone activity restarts the session.
		entry.sessionDone = false
		entry.state = SessionActive
	case entry.state == SessionInactive && entry.update.FopState != "" &&
		entry.update.FopState != model.FopStateInactive:
		entry.state = SessionActive
	}
}

// GetFopUpdate returns the merged update state for one platform.
func (h *Hub) GetFopUpdate(platform model.PlatformID) (model.FopUpdate, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.fops[platform]
	if !ok {
		return model.FopUpdate{}, false
	}
	return entry.update, true
}

// GetSessionStatus returns the lifecycle view for one platform. Unknown
// platforms report INACTIVE.
func (h *Hub) GetSessionStatus(platform model.PlatformID) SessionStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.fops[platform]
	if !ok {
		return SessionStatus{State: SessionInactive}
	}
	return SessionStatus{
		State:      entry.state,
		IsDone:     entry.sessionDone,
		GroupName:  entry.groupName,
		LastUpdate: entry.lastUpdate,
	}
}

// Platforms lists every platform seen so far, for the status endpoint.
func (h *Hub) Platforms() []model.PlatformID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.PlatformID, 0, len(h.fops))
	for id := range h.fops {
		out = append(out, id)
	}
	return out
}

func kindName(kind UpdateKind) string {
	switch kind {
	case KindTimer:
		return "timer"
	case KindDecision:
		return "decision"
	case KindGeneric:
		return "generic"
	default:
		return "update"
	}
}

// eventData projects the merged state into the event payload the displays
// receive.
func eventData(u *model.FopUpdate) map[string]any {
	data := map[string]any{
		"fop":      u.FOP,
		"fopState": u.FopState,
	}
	if u.UIEvent != "" {
		data["uiEvent"] = u.UIEvent
	}
	if u.GroupName != "" {
		data["groupName"] = u.GroupName
	}
	if u.FullName != "" {
		data["fullName"] = u.FullName
	}
	if u.Attempt != "" {
		data["attempt"] = u.Attempt
	}
	if u.Weight != 0 {
		data["weight"] = u.Weight
	}
	if u.AthleteTimerEventType != "" {
		data["athleteTimerEventType"] = u.AthleteTimerEventType
	}
	if u.MillisRemaining != 0 {
		data["milliseconds"] = u.MillisRemaining
	}
	if u.DecisionEventType != "" {
		data["decisionEventType"] = u.DecisionEventType
	}
	if u.BreakType != "" {
		data["breakType"] = u.BreakType
	}
	return data
}
