package hub

import (
	"time"

	"github.com/liftnet/tracker/internal/model"
)

// EventType tags events flowing from the hub to the broker.
type EventType string

const (
	EventFopUpdate              EventType = "fop_update"
	EventTimer                  EventType = "timer"
	EventDecision               EventType = "decision"
	EventCompetitionInitialized EventType = "competition_initialized"
	EventHubReady               EventType = "hub_ready_broadcast"
	EventWaiting                EventType = "waiting"
	EventProtocolError          EventType = "protocol_error"
	EventProtocolOK             EventType = "protocol_ok"
)

// Event is one hub emission. Platform is empty for global events.
type Event struct {
	Type      EventType        `json:"type"`
	Platform  model.PlatformID `json:"platform,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Data      map[string]any   `json:"data,omitempty"`
}

// UpdateKind classifies an inbound text frame for the hub.
type UpdateKind int

const (
	KindUpdate UpdateKind = iota
	KindTimer
	KindDecision
	KindGeneric
)

func (k UpdateKind) eventType() EventType {
	switch k {
	case KindTimer:
		return EventTimer
	case KindDecision:
		return EventDecision
	default:
		return EventFopUpdate
	}
}

// SessionState is the per-platform lifecycle state.
type SessionState string

const (
	SessionInactive SessionState = "INACTIVE"
	SessionActive   SessionState = "SESSION_ACTIVE"
	SessionDone     SessionState = "SESSION_DONE"
)

// SessionStatus is the read-side view of one platform's session.
type SessionStatus struct {
	State      SessionState `json:"state"`
	IsDone     bool         `json:"isDone"`
	GroupName  string       `json:"groupName,omitempty"`
	LastUpdate time.Time    `json:"lastUpdate"`
}

// Result is the hub's answer to an ingest operation; the channel server
// maps it onto the reply envelope.
type Result struct {
	Accepted bool
	Cached   bool
	Reason   string
	Missing  []string
}

// Reasons surfaced on rejected ingests.
const (
	ReasonAlreadyLoading       = "already_loading"
	ReasonInvalidDataStructure = "invalid_data_structure"
	ReasonMissingPreconditions = "missing_preconditions"
)

// Precondition names listed in Result.Missing.
const (
	PreconditionDatabase     = "database"
	PreconditionTranslations = "translations"
	PreconditionFlags        = "flags"
)
