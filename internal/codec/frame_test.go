package codec

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryRoundTrip(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	frame := EncodeBinary(TypeTranslationsZip, payload)

	decoded, err := DecodeBinary(frame)
	require.NoError(t, err)
	assert.Equal(t, TypeTranslationsZip, decoded.Type)
	assert.Equal(t, payload, decoded.Payload)
	assert.False(t, decoded.Legacy)
}

func TestBinaryTooShort(t *testing.T) {
	_, err := DecodeBinary([]byte{0x00, 0x00, 0x01})
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestBinaryLegacyZip(t *testing.T) {
	// A raw zip with no type prefix: first bytes are the PK\x03\x04 magic,
	// which reads as an absurd type length.
	frame := append([]byte{0x50, 0x4B, 0x03, 0x04}, []byte("zipdata")...)

	decoded, err := DecodeBinary(frame)
	require.NoError(t, err)
	assert.Equal(t, TypeFlagsZip, decoded.Type)
	assert.True(t, decoded.Legacy)
	assert.Equal(t, frame, decoded.Payload)
}

func TestBinaryMalformedTypeLen(t *testing.T) {
	frame := make([]byte, 8)
	binary.BigEndian.PutUint32(frame, 100) // claims 100 type bytes, has 4

	_, err := DecodeBinary(frame)
	var malformed *MalformedTypeError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 100, malformed.TypeLen)
}

func TestBinaryEmptyTypeIsUnknown(t *testing.T) {
	frame := EncodeBinary("", []byte("x"))

	decoded, err := DecodeBinary(frame)
	require.NoError(t, err)
	assert.Equal(t, "", decoded.Type)
	assert.False(t, KnownBinaryType(decoded.Type))
}

func TestBinaryLegacyAliases(t *testing.T) {
	for alias, canonical := range map[string]string{
		TypeFlagsLegacy: TypeFlagsZip,
		TypePictures:    TypePicturesZip,
	} {
		decoded, err := DecodeBinary(EncodeBinary(alias, nil))
		require.NoError(t, err)
		assert.Equal(t, canonical, decoded.Type)
	}
}

func TestParseText(t *testing.T) {
	frame, err := ParseText([]byte(`{"version":"2.1.0","type":"update","payload":{"fop":"A"}}`))
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", frame.Version)
	assert.Equal(t, TextUpdate, frame.Type)

	fields, err := PayloadFields(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, "A", fields["fop"])
}

func TestParseTextMissingFields(t *testing.T) {
	for _, raw := range []string{
		`{"version":"2.0.0","payload":{}}`,
		`{"version":"2.0.0","type":"update"}`,
	} {
		_, err := ParseText([]byte(raw))
		assert.ErrorIs(t, err, ErrInvalidTextFrame, raw)
	}
}

func TestParseTextBadJSON(t *testing.T) {
	_, err := ParseText([]byte(`{"version":`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidTextFrame)
}

func TestCheckVersion(t *testing.T) {
	assert.NoError(t, CheckVersion("2.0.0", "2.0.0"))
	assert.NoError(t, CheckVersion("2.1.3", "2.0.0"))
	assert.NoError(t, CheckVersion("1.9.0", "")) // no floor configured

	err := CheckVersion("1.9.0", "2.0.0")
	var mismatch *VersionError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "1.9.0", mismatch.Received)
	assert.Equal(t, "2.0.0", mismatch.Minimum)

	// Garbage versions never pass a configured floor.
	assert.Error(t, CheckVersion("not-a-version", "2.0.0"))
	assert.Error(t, CheckVersion("", "2.0.0"))
}
