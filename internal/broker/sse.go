package broker

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// heartbeatInterval paces SSE keep-alive comments so idle proxies do not
// drop the stream.
const heartbeatInterval = 25 * time.Second

// ServeHTTP streams hub events to one display over server-sent events.
// Query parameters: platform (omitted = global events only) and types
// (comma-separated; omitted = all).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	platform := r.URL.Query().Get("platform")
	var types []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The writer goroutine and the heartbeat both touch the wire.
	var writeMu sync.Mutex
	failed := make(chan struct{})
	var failOnce sync.Once

	send := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			failOnce.Do(func() { close(failed) })
			return err
		}
		flusher.Flush()
		return nil
	}

	id := uuid.New().String()[:8]
	unsubscribe := b.Subscribe(send, id, platform, types)
	defer unsubscribe()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-failed:
			return
		case <-ticker.C:
			writeMu.Lock()
			_, err := fmt.Fprint(w, ": keepalive\n\n")
			if err == nil {
				flusher.Flush()
			}
			writeMu.Unlock()
			if err != nil {
				log.Debug().Str("subscriber", id).Msg("heartbeat failed, dropping stream")
				return
			}
		}
	}
}
