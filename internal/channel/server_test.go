package channel

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftnet/tracker/internal/assets"
	"github.com/liftnet/tracker/internal/cache"
	"github.com/liftnet/tracker/internal/codec"
	"github.com/liftnet/tracker/internal/hub"
	"github.com/liftnet/tracker/internal/metrics"
)

type testEnv struct {
	hub  *hub.Hub
	srv  *httptest.Server
	conn *websocket.Conn
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MinVersion = "2.0.0"
	cfg.SamplesDir = filepath.Join(t.TempDir(), "samples")
	if mutate != nil {
		mutate(&cfg)
	}

	h := hub.New(hub.DefaultConfig(), cache.NewRegistry())
	extractor := assets.New(t.TempDir(), h)
	server := NewServer(cfg, h, extractor, metrics.New())

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testEnv{hub: h, srv: srv, conn: conn}
}

func (e *testEnv) sendText(t *testing.T, frame string) Reply {
	t.Helper()
	require.NoError(t, e.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	return e.readReply(t)
}

func (e *testEnv) sendBinary(t *testing.T, data []byte) Reply {
	t.Helper()
	require.NoError(t, e.conn.WriteMessage(websocket.BinaryMessage, data))
	return e.readReply(t)
}

func (e *testEnv) readReply(t *testing.T) Reply {
	t.Helper()
	e.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply Reply
	require.NoError(t, e.conn.ReadJSON(&reply))
	return reply
}

func databaseFrame(checksum string) string {
	return fmt.Sprintf(`{"version":"2.0.0","type":"database","payload":{"checksum":%q,"competition":{"competitionName":"Test Meet"},"athletes":[{"key":"k1","lastName":"Smith"}]}}`, checksum)
}

func loadAllPreconditions(t *testing.T, e *testEnv) {
	t.Helper()
	reply := e.sendText(t, databaseFrame("C1"))
	require.Equal(t, 200, reply.Status)
	e.hub.SetTranslations("en", map[string]string{"k": "v"})
	e.hub.SetFlagsLoaded()
}

func TestVersionMismatchClosesChannel(t *testing.T) {
	e := newTestEnv(t, nil)

	ch, unsub := e.hub.Subscribe()
	defer unsub()

	reply := e.sendText(t, `{"version":"1.9.0","type":"database","payload":{"athletes":[]}}`)
	assert.Equal(t, 400, reply.Status)
	assert.Equal(t, "Protocol version check failed", reply.Error)
	assert.Equal(t, "1.9.0", reply.Details["received"])

	assert.Nil(t, e.hub.GetDatabaseState(), "rejected frame must not mutate state")

	// The channel closes with the version policy code.
	e.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := e.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, CloseVersionMismatch), "got %v", err)

	errs := 0
	deadline := time.After(time.Second)
	for errs == 0 {
		select {
		case ev := <-ch:
			if ev.Type == hub.EventProtocolError {
				errs++
			}
		case <-deadline:
			t.Fatal("no protocol_error event")
		}
	}
	assert.Equal(t, 1, errs)
}

func TestInvalidEnvelope(t *testing.T) {
	e := newTestEnv(t, nil)

	reply := e.sendText(t, `{"version":"2.0.0","payload":{}}`)
	assert.Equal(t, 400, reply.Status)
	assert.Equal(t, "Invalid message format. Expected {version, type, payload}", reply.Error)
}

func TestUpdateMissingPreconditions(t *testing.T) {
	e := newTestEnv(t, nil)

	reply := e.sendText(t, `{"version":"2.0.0","type":"update","payload":{"fop":"A","uiEvent":"ATHLETE_UPDATE"}}`)
	assert.Equal(t, 428, reply.Status)
	assert.Equal(t, []string{"database", "translations", "flags"}, reply.Missing)

	update, ok := e.hub.GetFopUpdate("A")
	require.True(t, ok)
	assert.Equal(t, "ATHLETE_UPDATE", update.UIEvent)
}

func TestDatabaseThenUpdate(t *testing.T) {
	e := newTestEnv(t, nil)
	loadAllPreconditions(t, e)

	reply := e.sendText(t, `{"version":"2.0.0","type":"update","payload":{"fop":"A","uiEvent":"ATHLETE_UPDATE"}}`)
	assert.Equal(t, 200, reply.Status)
	assert.Equal(t, "Update processed", reply.Message)
}

func TestDatabaseChecksumCached(t *testing.T) {
	e := newTestEnv(t, nil)

	require.Equal(t, 200, e.sendText(t, databaseFrame("C1")).Status)

	reply := e.sendText(t, databaseFrame("C1"))
	assert.Equal(t, 200, reply.Status)
	assert.True(t, reply.Cached)
}

func TestEmptyDatabaseSentinel(t *testing.T) {
	e := newTestEnv(t, nil)

	reply := e.sendText(t, `{"version":"2.0.0","type":"database","payload":{"competition":{"competitionName":"Empty"},"athletes":[]}}`)
	assert.Equal(t, 202, reply.Status)
	assert.True(t, reply.Retry)
	assert.Nil(t, e.hub.GetDatabaseState(), "metadata-only frame must not publish a snapshot")
}

func buildTestZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestFlagsArchiveSatisfiesPrecondition(t *testing.T) {
	e := newTestEnv(t, nil)
	require.Equal(t, 200, e.sendText(t, databaseFrame("C1")).Status)
	e.hub.SetTranslations("en", map[string]string{"k": "v"})

	payload := buildTestZip(t, map[string]string{"USA.svg": "<svg/>", "CAN.png": "png"})
	reply := e.sendBinary(t, codec.EncodeBinary("flags_zip", payload))
	assert.Equal(t, 200, reply.Status)

	assert.True(t, e.hub.GetReadiness().FlagsLoaded)

	update := e.sendText(t, `{"version":"2.0.0","type":"update","payload":{"fop":"A"}}`)
	assert.Equal(t, 200, update.Status)
	assert.NotContains(t, update.Missing, "flags")
}

func TestDatabaseZipIngest(t *testing.T) {
	e := newTestEnv(t, nil)

	inner := `{"checksum":"Z1","competition":{"competitionName":"Zipped"},"athletes":[{"key":"k1"}]}`
	payload := buildTestZip(t, map[string]string{"database.json": inner})

	reply := e.sendBinary(t, codec.EncodeBinary("database_zip", payload))
	assert.Equal(t, 200, reply.Status)

	db := e.hub.GetDatabaseState()
	require.NotNil(t, db)
	assert.Equal(t, "Zipped", db.Competition.Name)
}

func TestUnknownBinaryType(t *testing.T) {
	e := newTestEnv(t, nil)

	reply := e.sendBinary(t, codec.EncodeBinary("bogus", []byte("x")))
	assert.Equal(t, 400, reply.Status)
	assert.Equal(t, ReasonUnknownBinaryType, reply.Reason)
}

func TestEmptyBinaryTypeIgnored(t *testing.T) {
	e := newTestEnv(t, nil)

	reply := e.sendBinary(t, codec.EncodeBinary("", []byte("x")))
	assert.Equal(t, 200, reply.Status)
	assert.Equal(t, "Ignored", reply.Message)
}

func TestAuthRequiredForTextFrames(t *testing.T) {
	e := newTestEnv(t, func(cfg *Config) { cfg.Secret = "s3cret" })

	reply := e.sendText(t, `{"version":"2.0.0","type":"update","payload":{"fop":"A"}}`)
	assert.Equal(t, 401, reply.Status)

	e.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := e.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, CloseUnauthenticated), "got %v", err)
}

func TestAuthRequiredForBinaryFrames(t *testing.T) {
	e := newTestEnv(t, func(cfg *Config) { cfg.Secret = "s3cret" })

	reply := e.sendBinary(t, codec.EncodeBinary("flags_zip", []byte("x")))
	assert.Equal(t, 401, reply.Status)
}

func TestAuthSuccessUnlocksChannel(t *testing.T) {
	e := newTestEnv(t, func(cfg *Config) { cfg.Secret = "s3cret" })

	reply := e.sendText(t, `{"version":"2.0.0","type":"update","payload":{"fop":"A","updateKey":"s3cret"}}`)
	assert.Equal(t, 428, reply.Status, "authenticated, so the reply is about preconditions")

	payload := buildTestZip(t, map[string]string{"USA.svg": "<svg/>"})
	binReply := e.sendBinary(t, codec.EncodeBinary("flags_zip", payload))
	assert.Equal(t, 200, binReply.Status)
}

func TestLearningModeCapturesTextFrames(t *testing.T) {
	samples := filepath.Join(t.TempDir(), "samples")
	e := newTestEnv(t, func(cfg *Config) {
		cfg.LearningMode = true
		cfg.SamplesDir = samples
	})

	e.sendText(t, `{"version":"2.0.0","type":"update","payload":{"fop":"A"}}`)

	entries, err := os.ReadDir(samples)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "-update.json"), entries[0].Name())
	assert.NotContains(t, entries[0].Name(), ":")

	data, err := os.ReadFile(filepath.Join(samples, entries[0].Name()))
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "update", frame["type"])
}

func TestLearningModeCapturesUnparseableFrames(t *testing.T) {
	samples := filepath.Join(t.TempDir(), "samples")
	e := newTestEnv(t, func(cfg *Config) {
		cfg.LearningMode = true
		cfg.SamplesDir = samples
	})

	// A frame the codec rejects still gets captured, labelled unknown;
	// unclassifiable traffic is what learning mode exists to collect.
	reply := e.sendText(t, `this is not json`)
	assert.Equal(t, 400, reply.Status)

	entries, err := os.ReadDir(samples)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "-unknown.json"), entries[0].Name())

	data, err := os.ReadFile(filepath.Join(samples, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "this is not json", string(data))
}
