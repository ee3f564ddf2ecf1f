package assets

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftnet/tracker/internal/codec"
)

type fakeSink struct {
	flags, pictures, styles bool
	translations            map[string]map[string]string
	checksum                string
}

func (f *fakeSink) SetFlagsLoaded()    { f.flags = true }
func (f *fakeSink) SetPicturesLoaded() { f.pictures = true }
func (f *fakeSink) SetStylesLoaded()   { f.styles = true }

func (f *fakeSink) TranslationsChecksum() string      { return f.checksum }
func (f *fakeSink) SetTranslationsChecksum(cs string) { f.checksum = cs }
func (f *fakeSink) SetTranslations(locale string, entries map[string]string) {
	if f.translations == nil {
		f.translations = make(map[string]map[string]string)
	}
	f.translations[locale] = entries
}

func buildZip(t *testing.T, files map[string]string) []byte {
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

func TestExtractFlags(t *testing.T) {
	root := t.TempDir()
	sink := &fakeSink{}
	ex := New(root, sink)

	payload := buildZip(t, map[string]string{
		"USA.svg": "<svg/>",
		"CAN.png": "png-bytes",
	})

	n, err := ex.Handle(codec.TypeFlagsZip, payload)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, sink.flags)

	for _, name := range []string{"USA.svg", "CAN.png"} {
		_, err := os.Stat(filepath.Join(root, "flags", name))
		assert.NoError(t, err, name)
	}
}

func TestExtractStylesTree(t *testing.T) {
	root := t.TempDir()
	sink := &fakeSink{}
	ex := New(root, sink)

	payload := buildZip(t, map[string]string{
		"main.css":        "body{}",
		"themes/dark.css": ".dark{}",
	})

	n, err := ex.Handle(codec.TypeStyles, payload)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, sink.styles)

	_, err = os.Stat(filepath.Join(root, "styles", "themes", "dark.css"))
	assert.NoError(t, err)
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	root := t.TempDir()
	ex := New(root, &fakeSink{})

	payload := buildZip(t, map[string]string{"../evil.txt": "nope"})
	_, err := ex.Handle(codec.TypeFlagsZip, payload)
	assert.Error(t, err)
}

func TestExtractBadArchive(t *testing.T) {
	ex := New(t.TempDir(), &fakeSink{})
	_, err := ex.Handle(codec.TypeFlagsZip, []byte("not a zip"))
	assert.Error(t, err)
}

func TestTranslationsCurrentShape(t *testing.T) {
	sink := &fakeSink{}
	ex := New(t.TempDir(), sink)

	payload := buildZip(t, map[string]string{
		"translations.json": `{"locales":{"en":{"Scoreboard.Team":"Team &amp; Club"}},"translationsChecksum":"T1"}`,
	})

	n, err := ex.Handle(codec.TypeTranslationsZip, payload)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Team & Club", sink.translations["en"]["Scoreboard.Team"])
	assert.Equal(t, "T1", sink.checksum)
}

func TestTranslationsBareShape(t *testing.T) {
	sink := &fakeSink{}
	ex := New(t.TempDir(), sink)

	payload := buildZip(t, map[string]string{
		"translations.json": `{"fr":{"Scoreboard.Attempt":"Essai"}}`,
	})

	n, err := ex.Handle(codec.TypeTranslationsZip, payload)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Essai", sink.translations["fr"]["Scoreboard.Attempt"])
}

func TestTranslationsChecksumSkip(t *testing.T) {
	sink := &fakeSink{checksum: "T1"}
	ex := New(t.TempDir(), sink)

	payload := buildZip(t, map[string]string{
		"translations.json": `{"locales":{"en":{"k":"v"}},"translationsChecksum":"T1"}`,
	})

	n, err := ex.Handle(codec.TypeTranslationsZip, payload)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Nil(t, sink.translations)
}

func TestTranslationsEmptyLocaleIsNoOp(t *testing.T) {
	sink := &fakeSink{}
	ex := New(t.TempDir(), sink)

	payload := buildZip(t, map[string]string{
		"translations.json": `{"locales":{"en":{}}}`,
	})

	n, err := ex.Handle(codec.TypeTranslationsZip, payload)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Nil(t, sink.translations)
}

func TestDecodeEntitiesIdempotent(t *testing.T) {
	in := "A &amp; B &ndash; C &#39;quoted&#39;"
	once := DecodeEntities(in)
	assert.Equal(t, "A & B – C 'quoted'", once)
	assert.Equal(t, once, DecodeEntities(once))
}

func TestExtractDatabaseZip(t *testing.T) {
	ex := New(t.TempDir(), &fakeSink{})
	payload := buildZip(t, map[string]string{"database.json": `{"athletes":[]}`})

	inner, err := ex.ExtractDatabase(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"athletes":[]}`, string(inner))
}
