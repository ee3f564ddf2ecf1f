package hub

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// SetTranslations stores one locale's entries. Regional variants (fr-CA)
// are merged over their base (fr): the base supplies defaults, the
// regional map overrides. Updating a base re-derives every regional child
// from the kept raw overrides. Maps are copy-on-write at the locale level:
// a map handed out by GetTranslations is never mutated afterwards.
func (h *Hub) SetTranslations(locale string, entries map[string]string) {
	if len(entries) == 0 {
		log.Warn().Str("locale", locale).Msg("ignoring empty translation map")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	raw := make(map[string]string, len(entries))
	for k, v := range entries {
		raw[k] = v
	}
	h.rawLocales[locale] = raw

	base := baseLocale(locale)
	if base == locale {
		h.effective[locale] = raw
		// Re-derive regional children of this base.
		for other, overrides := range h.rawLocales {
			if other != locale && baseLocale(other) == locale {
				h.effective[other] = mergeLocales(raw, overrides)
			}
		}
	} else {
		h.effective[locale] = mergeLocales(h.rawLocales[base], raw)
	}
	h.stateVersion++
}

// GetTranslations resolves a locale through the fallback chain: exact
// match, base language, English, empty. The returned map is a stable
// snapshot; callers must not mutate it.
func (h *Hub) GetTranslations(locale string) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if m, ok := h.effective[locale]; ok {
		return m
	}
	if base := baseLocale(locale); base != locale {
		if m, ok := h.effective[base]; ok {
			return m
		}
	}
	if m, ok := h.effective["en"]; ok {
		if locale != "en" {
			log.Warn().Str("locale", locale).Msg("locale not loaded, falling back to en")
		}
		return m
	}
	if locale != "en" {
		log.Warn().Str("locale", locale).Msg("locale not loaded, no fallback available")
	}
	return map[string]string{}
}

// TranslationsChecksum returns the checksum of the last ingested bundle.
func (h *Hub) TranslationsChecksum() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.translationsChecksum
}

func (h *Hub) SetTranslationsChecksum(checksum string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.translationsChecksum = checksum
}

// Locales lists the loaded locales.
func (h *Hub) Locales() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.effective))
	for locale := range h.effective {
		out = append(out, locale)
	}
	return out
}

func baseLocale(locale string) string {
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		return locale[:i]
	}
	return locale
}

func mergeLocales(base, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
