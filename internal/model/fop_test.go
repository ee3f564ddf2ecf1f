package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeLaterWinsPerField(t *testing.T) {
	var u FopUpdate
	u.Merge(map[string]any{"fop": "A", "fullName": "NG Ada", "weight": float64(90)})
	u.Merge(map[string]any{"weight": float64(93)})

	assert.Equal(t, "A", u.FOP)
	assert.Equal(t, "NG Ada", u.FullName, "untouched fields survive the second merge")
	assert.Equal(t, 93, u.Weight)
}

func TestMergeSpillsUnknownFields(t *testing.T) {
	var u FopUpdate
	u.Merge(map[string]any{"fop": "A", "ceremonyType": "MEDALS", "records": []any{"x"}})

	assert.Equal(t, "MEDALS", u.Extra["ceremonyType"])
	assert.Len(t, u.Extra["records"], 1)
	_, known := u.Extra["fop"]
	assert.False(t, known, "typed fields never land in the spill map")
}

func TestMergeCoercesJSONNumbers(t *testing.T) {
	var u FopUpdate
	u.Merge(map[string]any{
		"milliseconds": float64(45000),
		"startNumber":  "12",
		"down":         true,
		"d1":           false,
	})

	assert.Equal(t, 45000, u.MillisRemaining)
	assert.Equal(t, 12, u.StartNumber)
	assert.True(t, u.Down)
	require.NotNil(t, u.D1)
	assert.False(t, *u.D1)
}

func TestNoActiveSession(t *testing.T) {
	var u FopUpdate
	assert.True(t, u.NoActiveSession())

	u.Merge(map[string]any{"fopState": "INACTIVE"})
	assert.True(t, u.NoActiveSession())

	u.Merge(map[string]any{"athleteKey": "k1"})
	assert.False(t, u.NoActiveSession())

	var active FopUpdate
	active.Merge(map[string]any{"fopState": "TIME_RUNNING"})
	assert.False(t, active.NoActiveSession())
}

func TestParseDatabase(t *testing.T) {
	raw := `{
		"checksum": "abc",
		"competition": {"competitionName": "Nationals", "federation": "NF"},
		"athletes": [
			{"key": "k1", "lastName": "Ng", "snatch1Declaration": "100", "totalRank": 1},
			{"key": "k2", "lastName": "Diaz"}
		]
	}`
	db, err := ParseDatabase([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "abc", db.Checksum)
	assert.Equal(t, "Nationals", db.Competition.Name)
	require.Len(t, db.Athletes, 2)
	assert.Equal(t, "100", db.Athletes[0].Snatch1Declaration)

	a, ok := db.AthleteByKey("k2")
	require.True(t, ok)
	assert.Equal(t, "Diaz", a.LastName)

	_, ok = db.AthleteByKey("missing")
	assert.False(t, ok)
}

func TestParseDatabaseRejectsMalformedJSON(t *testing.T) {
	_, err := ParseDatabase([]byte(`{"athletes": [`))
	assert.Error(t, err)
}

func TestFopUpdateSerializesTypedFields(t *testing.T) {
	var u FopUpdate
	u.Merge(map[string]any{"fop": "A", "fullName": "NG Ada", "unknownThing": "x"})

	data, err := json.Marshal(u)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "A", out["fop"])
	_, leaked := out["unknownThing"]
	assert.False(t, leaked, "spill map stays internal")
}
