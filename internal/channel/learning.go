package channel

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// sampleTimestamp is an ISO8601 local timestamp with the colons removed so
// the captures sort lexically and stay filesystem-safe.
const sampleTimestamp = "2006-01-02T150405.000"

// captureSample writes one textual frame to the samples directory for
// offline protocol study. Failures are logged and never affect the frame's
// processing.
func (s *Server) captureSample(label string, data []byte) {
	if label == "" {
		label = "unknown"
	}
	if err := os.MkdirAll(s.cfg.SamplesDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("learning mode: cannot create samples dir")
		return
	}
	name := fmt.Sprintf("%s-%s.json", time.Now().Format(sampleTimestamp), label)
	path := filepath.Join(s.cfg.SamplesDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("learning mode: capture failed")
	}
}
