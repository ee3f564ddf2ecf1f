// Package assets materializes the zip archives pushed over the source
// channel (flags, athlete pictures, styles, translations) under a managed
// directory tree and feeds the results to the hub through a narrow sink.
package assets

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/liftnet/tracker/internal/codec"
)

// HubSink is the narrow slice of the hub the extractor writes through.
type HubSink interface {
	SetFlagsLoaded()
	SetPicturesLoaded()
	SetStylesLoaded()
	SetTranslations(locale string, entries map[string]string)
	TranslationsChecksum() string
	SetTranslationsChecksum(checksum string)
}

// Extractor unpacks asset archives below root. Extraction is best-effort:
// a failing entry aborts with an error but already-written files stay.
type Extractor struct {
	root string
	hub  HubSink
}

func New(root string, hub HubSink) *Extractor {
	return &Extractor{root: root, hub: hub}
}

// Root returns the managed directory root.
func (e *Extractor) Root() string { return e.root }

// Handle routes a decoded binary frame to its extraction path and returns
// the number of files written.
func (e *Extractor) Handle(frameType string, payload []byte) (int, error) {
	switch frameType {
	case codec.TypeFlagsZip:
		n, err := e.extractZip("flags", payload)
		if err == nil {
			e.hub.SetFlagsLoaded()
		}
		return n, err
	case codec.TypePicturesZip:
		n, err := e.extractZip("pictures", payload)
		if err == nil {
			e.hub.SetPicturesLoaded()
		}
		return n, err
	case codec.TypeStyles:
		n, err := e.extractZip("styles", payload)
		if err == nil {
			e.hub.SetStylesLoaded()
		}
		return n, err
	case codec.TypeTranslationsZip:
		return e.handleTranslations(payload)
	default:
		return 0, fmt.Errorf("no extraction path for frame type %q", frameType)
	}
}

func (e *Extractor) extractZip(subdir string, payload []byte) (int, error) {
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return 0, fmt.Errorf("open %s archive: %w", subdir, err)
	}

	dir := filepath.Join(e.root, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s dir: %w", subdir, err)
	}

	written := 0
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if err := e.writeEntry(dir, entry); err != nil {
			return written, err
		}
		written++
	}

	log.Info().Str("category", subdir).Int("files", written).Msg("assets extracted")
	return written, nil
}

func (e *Extractor) writeEntry(dir string, entry *zip.File) error {
	// Zip entries are attacker-ish input; keep them inside dir.
	clean := filepath.Clean(entry.Name)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("entry %q escapes extraction root", entry.Name)
	}
	target := filepath.Join(dir, clean)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", entry.Name, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// ExtractDatabase unwraps a database_zip payload: a zip holding one JSON
// entry with the full snapshot. The inner bytes are returned for the
// channel server to parse and ingest.
func (e *Extractor) ExtractDatabase(payload []byte) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("open database archive: %w", err)
	}
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		src, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("open database entry %s: %w", entry.Name, err)
		}
		defer src.Close()
		data, err := io.ReadAll(src)
		if err != nil {
			return nil, fmt.Errorf("read database entry %s: %w", entry.Name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("database archive has no file entries")
}
