package assets

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// translationsEntry is the required single entry inside translations_zip.
const translationsEntry = "translations.json"

// translationsFile is the current wire shape. Older sources send the bare
// {<locale>: {<key>: <value>}} map instead.
type translationsFile struct {
	Locales              map[string]map[string]string `json:"locales"`
	TranslationsChecksum string                       `json:"translationsChecksum,omitempty"`
}

// entityReplacer decodes the HTML entities the source is known to emit in
// translation values. Replacement output contains no '&', so applying the
// decoder twice is a no-op.
var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&nbsp;", " ",
	"&ndash;", "–",
	"&mdash;", "—",
	"&hellip;", "…",
	"&copy;", "©",
	"&reg;", "®",
	"&trade;", "™",
	"&quot;", `"`,
	"&apos;", "'",
	"&#39;", "'",
	"&lt;", "<",
	"&gt;", ">",
)

// DecodeEntities replaces known HTML entities with their Unicode
// equivalents. Idempotent on already-decoded strings.
func DecodeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return entityReplacer.Replace(s)
}

// handleTranslations unpacks a translations archive into the hub's locale
// store. Returns the number of locales ingested.
func (e *Extractor) handleTranslations(payload []byte) (int, error) {
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return 0, fmt.Errorf("open translations archive: %w", err)
	}

	var raw []byte
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || entry.Name != translationsEntry {
			continue
		}
		src, err := entry.Open()
		if err != nil {
			return 0, fmt.Errorf("open %s: %w", translationsEntry, err)
		}
		raw, err = io.ReadAll(src)
		src.Close()
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", translationsEntry, err)
		}
		break
	}
	if raw == nil {
		return 0, fmt.Errorf("translations archive missing %s", translationsEntry)
	}

	locales, checksum, err := parseTranslations(raw)
	if err != nil {
		return 0, err
	}

	if checksum != "" && checksum == e.hub.TranslationsChecksum() {
		log.Debug().Str("checksum", checksum).Msg("translations unchanged, skipping")
		return 0, nil
	}

	ingested := 0
	for locale, entries := range locales {
		if len(entries) == 0 {
			log.Warn().Str("locale", locale).Msg("empty translation map ignored")
			continue
		}
		decoded := make(map[string]string, len(entries))
		for k, v := range entries {
			decoded[k] = DecodeEntities(v)
		}
		e.hub.SetTranslations(locale, decoded)
		ingested++
	}
	if checksum != "" {
		e.hub.SetTranslationsChecksum(checksum)
	}

	log.Info().Int("locales", ingested).Msg("translations loaded")
	return ingested, nil
}

func parseTranslations(raw []byte) (map[string]map[string]string, string, error) {
	var file translationsFile
	if err := json.Unmarshal(raw, &file); err == nil && file.Locales != nil {
		return file.Locales, file.TranslationsChecksum, nil
	}

	// Backward compatibility: bare {<locale>: {...}} map.
	var bare map[string]map[string]string
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", translationsEntry, err)
	}
	return bare, "", nil
}
