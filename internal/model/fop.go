package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Update event markers used by the session lifecycle.
const (
	UIEventGroupDone   = "GroupDone"
	BreakTypeGroupDone = "GROUP_DONE"
	FopStateInactive   = "INACTIVE"
)

// FopUpdate is the merged per-platform update state. Known fields are typed;
// fields the source sends that we do not know yet land in Extra so nothing
// is lost across protocol revisions.
type FopUpdate struct {
	FOP              string `json:"fop,omitempty"`
	FopState         string `json:"fopState,omitempty"`
	UIEvent          string `json:"uiEvent,omitempty"`
	Mode             string `json:"mode,omitempty"`
	GroupName        string `json:"groupName,omitempty"`
	GroupDescription string `json:"groupDescription,omitempty"`
	GroupInfo        string `json:"groupInfo,omitempty"`
	LiftTypeKey      string `json:"liftTypeKey,omitempty"`

	CurrentAthleteKey string `json:"athleteKey,omitempty"`
	FullName          string `json:"fullName,omitempty"`
	TeamName          string `json:"teamName,omitempty"`
	StartNumber       int    `json:"startNumber,omitempty"`
	CategoryName      string `json:"categoryName,omitempty"`
	Attempt           string `json:"attempt,omitempty"`
	AttemptNumber     int    `json:"attemptNumber,omitempty"`
	Weight            int    `json:"weight,omitempty"`

	TimeAllowed           int    `json:"timeAllowed,omitempty"`
	MillisRemaining       int    `json:"milliseconds,omitempty"`
	AthleteTimerEventType string `json:"athleteTimerEventType,omitempty"`
	BreakTimerEventType   string `json:"breakTimerEventType,omitempty"`
	IndefiniteBreak       bool   `json:"indefiniteBreak,omitempty"`
	BreakType             string `json:"breakType,omitempty"`

	DecisionEventType string `json:"decisionEventType,omitempty"`
	D1                *bool  `json:"d1,omitempty"`
	D2                *bool  `json:"d2,omitempty"`
	D3                *bool  `json:"d3,omitempty"`
	Down              bool   `json:"down,omitempty"`
	DecisionsVisible  bool   `json:"decisionsVisible,omitempty"`

	Extra map[string]any `json:"-"`

	LastUpdate time.Time `json:"lastUpdate"`
}

// Merge folds an incoming payload into the state. Precedence is later-wins
// per field: only keys present in the payload are assigned.
func (f *FopUpdate) Merge(payload map[string]any) {
	for key, raw := range payload {
		switch key {
		case "fop":
			f.FOP = asString(raw)
		case "fopState":
			f.FopState = asString(raw)
		case "uiEvent":
			f.UIEvent = asString(raw)
		case "mode":
			f.Mode = asString(raw)
		case "groupName":
			f.GroupName = asString(raw)
		case "groupDescription":
			f.GroupDescription = asString(raw)
		case "groupInfo":
			f.GroupInfo = asString(raw)
		case "liftTypeKey":
			f.LiftTypeKey = asString(raw)
		case "athleteKey":
			f.CurrentAthleteKey = asString(raw)
		case "fullName":
			f.FullName = asString(raw)
		case "teamName":
			f.TeamName = asString(raw)
		case "startNumber":
			f.StartNumber = asInt(raw)
		case "categoryName":
			f.CategoryName = asString(raw)
		case "attempt":
			f.Attempt = asString(raw)
		case "attemptNumber":
			f.AttemptNumber = asInt(raw)
		case "weight":
			f.Weight = asInt(raw)
		case "timeAllowed":
			f.TimeAllowed = asInt(raw)
		case "milliseconds":
			f.MillisRemaining = asInt(raw)
		case "athleteTimerEventType":
			f.AthleteTimerEventType = asString(raw)
		case "breakTimerEventType":
			f.BreakTimerEventType = asString(raw)
		case "indefiniteBreak":
			f.IndefiniteBreak = asBool(raw)
		case "breakType":
			f.BreakType = asString(raw)
		case "decisionEventType":
			f.DecisionEventType = asString(raw)
		case "d1":
			f.D1 = asBoolPtr(raw)
		case "d2":
			f.D2 = asBoolPtr(raw)
		case "d3":
			f.D3 = asBoolPtr(raw)
		case "down":
			f.Down = asBool(raw)
		case "decisionsVisible":
			f.DecisionsVisible = asBool(raw)
		default:
			if f.Extra == nil {
				f.Extra = make(map[string]any)
			}
			f.Extra[key] = raw
		}
	}
}

// NoActiveSession reports the "nothing happening on this platform" state:
// an INACTIVE fopState with no current athlete.
func (f *FopUpdate) NoActiveSession() bool {
	return (f.FopState == "" || f.FopState == FopStateInactive) && f.CurrentAthleteKey == ""
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	default:
		return false
	}
}

func asBoolPtr(v any) *bool {
	if v == nil {
		return nil
	}
	b := asBool(v)
	return &b
}
