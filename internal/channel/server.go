// Package channel accepts the framed bidirectional connections from the
// competition source, classifies frames, applies the shared-secret policy
// and routes to the hub and the asset extractor.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/liftnet/tracker/internal/assets"
	"github.com/liftnet/tracker/internal/codec"
	"github.com/liftnet/tracker/internal/hub"
	"github.com/liftnet/tracker/internal/metrics"
	"github.com/liftnet/tracker/internal/model"
)

// Config tunes the channel server.
type Config struct {
	// Path is the upgrade endpoint; everything else is left to co-hosted
	// handlers (query API, proxy).
	Path string
	// Secret, when non-empty, must match the updateKey of the first text
	// frame before any frame mutates state.
	Secret string
	// MinVersion is the protocol floor for text frames.
	MinVersion string
	// IdleTimeout without any frame triggers a hub refresh and closes the
	// channel. Zero disables.
	IdleTimeout time.Duration
	// DatabaseFollowupWindow is how long a binary database_zip may trail an
	// empty-database text frame.
	DatabaseFollowupWindow time.Duration
	// FrameRate / FrameBurst bound inbound frame processing per channel.
	FrameRate  rate.Limit
	FrameBurst int
	// LearningMode captures every textual frame under SamplesDir.
	LearningMode bool
	SamplesDir   string
}

func DefaultConfig() Config {
	return Config{
		Path:                   "/ws",
		IdleTimeout:            5 * time.Minute,
		DatabaseFollowupWindow: 5 * time.Second,
		FrameRate:              rate.Limit(200),
		FrameBurst:             400,
		SamplesDir:             "samples",
	}
}

// Server owns the websocket endpoint for source channels.
type Server struct {
	cfg       Config
	hub       *hub.Hub
	extractor *assets.Extractor
	metrics   *metrics.Registry
	upgrader  websocket.Upgrader
}

func NewServer(cfg Config, h *hub.Hub, extractor *assets.Extractor, m *metrics.Registry) *Server {
	return &Server{
		cfg:       cfg,
		hub:       h,
		extractor: extractor,
		metrics:   m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			// The source lives on the venue LAN behind the shared secret;
			// origin checks do not apply to it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler upgrades requests on the configured path.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("channel upgrade failed")
			return
		}
		go s.serveChannel(conn)
	})
}

type channelConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	authenticated bool
	versionOK     bool
	limiter       *rate.Limiter

	// expectZipUntil is set by the empty-database sentinel; a database_zip
	// arriving before the deadline completes the load.
	expectZipUntil time.Time
}

func (c *channelConn) reply(r Reply) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(r); err != nil {
		log.Warn().Err(err).Msg("channel reply failed")
	}
}

func (c *channelConn) closeWithPolicy(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}

// serveChannel is the per-connection reader: frames are processed strictly
// in arrival order, every frame gets a reply, and only auth or version
// policy closes the channel.
func (s *Server) serveChannel(conn *websocket.Conn) {
	remote := conn.RemoteAddr().String()
	log.Info().Str("remote", remote).Msg("source channel connected")

	// First source connection of the process resets cached state.
	s.hub.FirstConnectReset()

	c := &channelConn{
		conn:    conn,
		limiter: rate.NewLimiter(s.cfg.FrameRate, s.cfg.FrameBurst),
	}
	defer func() {
		conn.Close()
		log.Info().Str("remote", remote).Msg("source channel closed, refreshing hub")
		s.hub.Refresh()
	}()

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			log.Warn().Err(err).Str("remote", remote).Msg("channel read ended")
			return
		}
		_ = c.limiter.Wait(context.Background())

		switch messageType {
		case websocket.TextMessage:
			if closed := s.handleText(c, data); closed {
				return
			}
		case websocket.BinaryMessage:
			if closed := s.handleBinary(c, data); closed {
				return
			}
		}
	}
}

// handleText processes one textual frame. The returned bool reports that
// the channel was closed by policy.
func (s *Server) handleText(c *channelConn, data []byte) bool {
	frame, err := codec.ParseText(data)
	if s.cfg.LearningMode {
		// Every textual frame is captured, including ones the codec cannot
		// classify yet; those are exactly the samples learning mode is for.
		label := "unknown"
		if err == nil {
			label = frame.Type
		}
		s.captureSample(label, data)
	}
	if err != nil {
		if errors.Is(err, codec.ErrInvalidTextFrame) {
			c.reply(Reply{Status: 400, Error: codec.ErrInvalidTextFrame.Error()})
		} else {
			c.reply(Reply{Status: 400, Error: "Malformed JSON frame", Reason: ReasonJSONParse})
		}
		s.countReply(400)
		return false
	}
	s.metrics.FramesTotal.WithLabelValues("text", frame.Type).Inc()

	if err := codec.CheckVersion(frame.Version, s.cfg.MinVersion); err != nil {
		var mismatch *codec.VersionError
		details := map[string]any{"received": frame.Version}
		if errors.As(err, &mismatch) {
			details["minimum"] = mismatch.Minimum
		}
		c.reply(Reply{Status: 400, Error: "Protocol version check failed", Details: details})
		s.countReply(400)
		s.hub.EmitProtocolError(frame.Version, s.cfg.MinVersion)
		c.closeWithPolicy(CloseVersionMismatch, "protocol version below minimum")
		return true
	}
	if !c.versionOK {
		c.versionOK = true
		s.hub.EmitProtocolOK(frame.Version)
	}

	fields, err := codec.PayloadFields(frame.Payload)
	if err != nil {
		c.reply(Reply{Status: 400, Error: "Malformed payload", Reason: ReasonJSONParse})
		s.countReply(400)
		return false
	}

	if s.cfg.Secret != "" && !c.authenticated {
		key, _ := fields["updateKey"].(string)
		if key != s.cfg.Secret {
			c.reply(Reply{Status: 401, Error: "Authentication failed", Reason: ReasonUnauthenticated})
			s.countReply(401)
			c.closeWithPolicy(CloseUnauthenticated, "authentication failed")
			return true
		}
		c.authenticated = true
	}

	switch frame.Type {
	case codec.TextDatabase:
		s.handleDatabaseText(c, frame.Payload)
	case codec.TextUpdate:
		s.handleUpdate(c, fields, hub.KindUpdate, "Update processed")
	case codec.TextTimer:
		s.handleUpdate(c, fields, hub.KindTimer, "Timer processed")
	case codec.TextDecision:
		s.handleUpdate(c, fields, hub.KindDecision, "Decision processed")
	default:
		s.handleUpdate(c, fields, hub.KindGeneric, "Message processed")
	}
	return false
}

func (s *Server) handleDatabaseText(c *channelConn, payload json.RawMessage) {
	db, err := model.ParseDatabase(payload)
	if err != nil {
		c.reply(Reply{Status: 400, Error: "Malformed database payload", Reason: ReasonJSONParse})
		s.countReply(400)
		return
	}

	// Empty-database sentinel: metadata now, binary snapshot to follow.
	if len(db.Athletes) == 0 {
		c.expectZipUntil = time.Now().Add(s.cfg.DatabaseFollowupWindow)
		s.hub.SetCompetitionMetadata(db.Competition)
		c.reply(Reply{Status: 202, Message: "Awaiting binary database archive", Retry: true})
		s.countReply(202)
		return
	}

	s.replyForDatabaseResult(c, s.hub.IngestDatabase(db))
}

func (s *Server) replyForDatabaseResult(c *channelConn, res hub.Result) {
	switch {
	case res.Reason == hub.ReasonAlreadyLoading:
		c.reply(Reply{Status: 202, Message: "Database load in progress", Retry: true, Reason: res.Reason})
		s.countReply(202)
	case res.Reason == hub.ReasonInvalidDataStructure:
		c.reply(Reply{Status: 400, Error: "Invalid database structure", Reason: res.Reason})
		s.countReply(400)
	case res.Cached:
		c.reply(Reply{Status: 200, Message: "Database unchanged", Cached: true})
		s.countReply(200)
	default:
		c.reply(Reply{Status: 200, Message: "Database loaded"})
		s.countReply(200)
	}
}

func (s *Server) handleUpdate(c *channelConn, fields map[string]any, kind hub.UpdateKind, okMessage string) {
	platform, _ := fields["fop"].(string)
	if platform == "" {
		c.reply(Reply{Status: 400, Error: "Update payload missing fop", Reason: ReasonMissingPlatform})
		s.countReply(400)
		return
	}

	res := s.hub.IngestUpdate(model.PlatformID(platform), fields, kind)
	if len(res.Missing) > 0 {
		c.reply(Reply{Status: 428, Message: "Preconditions missing", Missing: res.Missing})
		s.countReply(428)
		return
	}
	c.reply(Reply{Status: 200, Message: okMessage})
	s.countReply(200)
}

// handleBinary processes one binary frame. Binary frames require prior
// authentication when a secret is configured.
func (s *Server) handleBinary(c *channelConn, data []byte) bool {
	frame, err := codec.DecodeBinary(data)
	if err != nil {
		var malformed *codec.MalformedTypeError
		switch {
		case errors.Is(err, codec.ErrTooShort):
			c.reply(Reply{Status: 400, Error: "Frame too short", Reason: ReasonMalformedFrame})
		case errors.As(err, &malformed):
			c.reply(Reply{Status: 400, Error: "Malformed frame type", Reason: ReasonMalformedFrame,
				Details: map[string]any{"typeLen": malformed.TypeLen}})
		default:
			c.reply(Reply{Status: 400, Error: "Undecodable frame", Reason: ReasonMalformedFrame})
		}
		s.countReply(400)
		return false
	}
	s.metrics.FramesTotal.WithLabelValues("binary", frame.Type).Inc()

	if s.cfg.Secret != "" && !c.authenticated {
		c.reply(Reply{Status: 401, Error: "Authentication required before binary frames", Reason: ReasonUnauthenticated})
		s.countReply(401)
		c.closeWithPolicy(CloseUnauthenticated, "authentication required")
		return true
	}

	if frame.Type == "" {
		log.Warn().Msg("binary frame with empty type ignored")
		c.reply(Reply{Status: 200, Message: "Ignored"})
		s.countReply(200)
		return false
	}
	if !codec.KnownBinaryType(frame.Type) {
		c.reply(Reply{Status: 400, Error: "Unknown binary frame type", Reason: ReasonUnknownBinaryType,
			Details: map[string]any{"type": frame.Type}})
		s.countReply(400)
		return false
	}

	if frame.Type == codec.TypeDatabaseZip {
		s.handleDatabaseZip(c, frame.Payload)
		return false
	}

	files, err := s.extractor.Handle(frame.Type, frame.Payload)
	if err != nil {
		log.Error().Err(err).Str("type", frame.Type).Msg("asset extraction failed")
		c.reply(Reply{Status: 500, Error: "Asset extraction failed", Reason: ReasonExtractionFailed})
		s.countReply(500)
		return false
	}
	s.metrics.ExtractedFiles.WithLabelValues(frame.Type).Add(float64(files))
	c.reply(Reply{Status: 200, Message: "Assets extracted", Details: map[string]any{"files": files}})
	s.countReply(200)
	return false
}

func (s *Server) handleDatabaseZip(c *channelConn, payload []byte) {
	if !c.expectZipUntil.IsZero() && time.Now().After(c.expectZipUntil) {
		log.Warn().Msg("database archive arrived after the follow-up window")
	}
	c.expectZipUntil = time.Time{}

	inner, err := s.extractor.ExtractDatabase(payload)
	if err != nil {
		log.Error().Err(err).Msg("database archive extraction failed")
		c.reply(Reply{Status: 500, Error: "Database archive extraction failed", Reason: ReasonExtractionFailed})
		s.countReply(500)
		return
	}
	db, err := model.ParseDatabase(inner)
	if err != nil {
		c.reply(Reply{Status: 400, Error: "Malformed database archive content", Reason: ReasonJSONParse})
		s.countReply(400)
		return
	}
	s.replyForDatabaseResult(c, s.hub.IngestDatabase(db))
}

func (s *Server) countReply(status int) {
	s.metrics.RepliesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}
