package api

import (
	"context"
	"errors"
	"sort"

	"github.com/liftnet/tracker/internal/hub"
	"github.com/liftnet/tracker/internal/model"
)

// RegisterBuiltins installs the two views every deployment gets: the
// ranked results board and the current-athlete view. Venue-specific
// plugins register next to these at startup.
func RegisterBuiltins(reg *PluginRegistry) {
	reg.Register(Plugin{
		Type:     "results",
		Requires: []string{hub.PreconditionDatabase},
		Compute:  computeResults,
		Volatile: sessionVolatile,
	})
	reg.Register(Plugin{
		Type:     "current",
		Requires: []string{hub.PreconditionDatabase},
		Compute:  computeCurrent,
		Volatile: currentVolatile,
	})
}

func computeResults(_ context.Context, h *hub.Hub, platform model.PlatformID, opts map[string]string) (map[string]any, error) {
	// The registry checks preconditions before calling, but a Refresh can
	// nil the snapshot in between.
	db := h.GetDatabaseState()
	if db == nil {
		return nil, errors.New("database not loaded")
	}

	rows := make([]map[string]any, 0, len(db.Athletes))
	for i := range db.Athletes {
		a := &db.Athletes[i]
		if g := opts["group"]; g != "" && a.Group != g {
			continue
		}
		rows = append(rows, map[string]any{
			"key":           a.Key,
			"fullName":      displayName(a),
			"team":          a.TeamCode,
			"category":      a.Category,
			"bestSnatch":    a.BestSnatch,
			"bestCleanJerk": a.BestCleanJerk,
			"total":         a.Total,
			"snatchRank":    a.SnatchRank,
			"cleanJerkRank": a.CleanJerkRank,
			"totalRank":     a.TotalRank,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ri, _ := rows[i]["totalRank"].(int)
		rj, _ := rows[j]["totalRank"].(int)
		// Unranked athletes sink to the bottom.
		if ri == 0 {
			return false
		}
		if rj == 0 {
			return true
		}
		return ri < rj
	})

	return map[string]any{
		"competition": db.Competition.Name,
		"platform":    platform,
		"athletes":    rows,
	}, nil
}

func computeCurrent(_ context.Context, h *hub.Hub, platform model.PlatformID, _ map[string]string) (map[string]any, error) {
	payload := map[string]any{
		"platform": platform,
	}
	update, ok := h.GetFopUpdate(platform)
	if !ok || update.NoActiveSession() {
		payload["active"] = false
		return payload, nil
	}
	payload["active"] = true
	payload["fullName"] = update.FullName
	payload["teamName"] = update.TeamName
	payload["attempt"] = update.Attempt
	payload["weight"] = update.Weight
	payload["liftTypeKey"] = update.LiftTypeKey
	payload["groupName"] = update.GroupName

	if db := h.GetDatabaseState(); db != nil && update.CurrentAthleteKey != "" {
		if a, ok := db.AthleteByKey(model.AthleteKey(update.CurrentAthleteKey)); ok {
			payload["category"] = a.Category
			payload["startNumber"] = a.StartNumber
		}
	}
	return payload, nil
}

// sessionVolatile is the minimal live overlay shared by board-style views.
func sessionVolatile(h *hub.Hub, platform model.PlatformID) map[string]any {
	status := h.GetSessionStatus(platform)
	return map[string]any{
		"sessionStatus": status,
	}
}

func currentVolatile(h *hub.Hub, platform model.PlatformID) map[string]any {
	out := sessionVolatile(h, platform)
	if update, ok := h.GetFopUpdate(platform); ok {
		out["milliseconds"] = update.MillisRemaining
		out["athleteKey"] = update.CurrentAthleteKey
	}
	return out
}

func displayName(a *model.AthleteRecord) string {
	if a.FullName != "" {
		return a.FullName
	}
	if a.FirstName == "" {
		return a.LastName
	}
	return a.LastName + ", " + a.FirstName
}
