// Package codec implements frame delimitation and parsing for the source
// channel. Binary frames are length-prefixed: a big-endian u32 type length,
// the UTF-8 type name, then the payload. Text frames are JSON envelopes of
// the form {version, type, payload}.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// MaxTypeLen bounds the declared type-name length. Anything above this is a
// corrupt or hostile frame.
const MaxTypeLen = 10 << 20

// zipMagic is the zip local-file-header signature. Legacy sources send raw
// flag archives with no type prefix at all.
var zipMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// Binary frame types understood by the router.
const (
	TypeFlagsZip        = "flags_zip"
	TypeFlagsLegacy     = "flags"
	TypePictures        = "pictures"
	TypePicturesZip     = "pictures_zip"
	TypeStyles          = "styles"
	TypeTranslationsZip = "translations_zip"
	TypeDatabaseZip     = "database_zip"
)

// Text frame types with dedicated handlers; anything else is routed to the
// generic handler under the same precondition policy.
const (
	TextDatabase = "database"
	TextUpdate   = "update"
	TextTimer    = "timer"
	TextDecision = "decision"
)

var knownBinaryTypes = map[string]string{
	TypeFlagsZip:        TypeFlagsZip,
	TypeFlagsLegacy:     TypeFlagsZip,
	TypePictures:        TypePicturesZip,
	TypePicturesZip:     TypePicturesZip,
	TypeStyles:          TypeStyles,
	TypeTranslationsZip: TypeTranslationsZip,
	TypeDatabaseZip:     TypeDatabaseZip,
}

// ErrTooShort is returned for binary frames shorter than the length prefix.
var ErrTooShort = errors.New("frame too short")

// ErrInvalidTextFrame reports a text frame missing its required fields. The
// message text is part of the wire contract.
var ErrInvalidTextFrame = errors.New("Invalid message format. Expected {version, type, payload}")

// MalformedTypeError reports a type length that cannot be satisfied by the
// frame it arrived in.
type MalformedTypeError struct {
	TypeLen  int
	FrameLen int
}

func (e *MalformedTypeError) Error() string {
	return fmt.Sprintf("malformed frame type: typeLen=%d frameLen=%d", e.TypeLen, e.FrameLen)
}

// UnknownBinaryTypeError reports a syntactically valid frame whose type the
// router does not understand.
type UnknownBinaryTypeError struct {
	Type string
}

func (e *UnknownBinaryTypeError) Error() string {
	return fmt.Sprintf("unknown binary frame type %q", e.Type)
}

// VersionError reports a text frame below the configured minimum protocol
// version. It is the only codec error that closes the channel.
type VersionError struct {
	Received string
	Minimum  string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("protocol version %q below minimum %q", e.Received, e.Minimum)
}

// BinaryFrame is a decoded binary frame. Type is already normalized to its
// canonical spelling (legacy aliases folded in).
type BinaryFrame struct {
	Type    string
	Payload []byte
	// Legacy marks a bare zip accepted without a type prefix.
	Legacy bool
}

// EncodeBinary produces the wire form of a binary frame.
func EncodeBinary(typeName string, payload []byte) []byte {
	buf := make([]byte, 4+len(typeName)+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(typeName)))
	copy(buf[4:], typeName)
	copy(buf[4+len(typeName):], payload)
	return buf
}

// DecodeBinary parses a binary frame. A frame that opens with the zip magic
// and carries no plausible type prefix is accepted as a legacy flags_zip
// whose payload is the whole frame.
func DecodeBinary(frame []byte) (BinaryFrame, error) {
	if len(frame) < 4 {
		return BinaryFrame{}, ErrTooShort
	}
	typeLen := int(binary.BigEndian.Uint32(frame))
	if typeLen > MaxTypeLen || typeLen > len(frame)-4 {
		if bytes.HasPrefix(frame, zipMagic) {
			return BinaryFrame{Type: TypeFlagsZip, Payload: frame, Legacy: true}, nil
		}
		return BinaryFrame{}, &MalformedTypeError{TypeLen: typeLen, FrameLen: len(frame)}
	}
	typeName := string(frame[4 : 4+typeLen])
	payload := frame[4+typeLen:]
	if canonical, ok := knownBinaryTypes[typeName]; ok {
		return BinaryFrame{Type: canonical, Payload: payload}, nil
	}
	// Empty type strings are tolerated: the router logs and ignores them.
	return BinaryFrame{Type: typeName, Payload: payload}, nil
}

// KnownBinaryType reports whether a decoded type has a handler.
func KnownBinaryType(typeName string) bool {
	_, ok := knownBinaryTypes[typeName]
	return ok
}

// TextFrame is the parsed JSON envelope of a textual frame. Payload is left
// raw; each handler decodes it into its own shape.
type TextFrame struct {
	Version string          `json:"version"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ParseText decodes a text frame. A JSON object missing type or payload is
// rejected with ErrInvalidTextFrame; undecodable bytes surface the JSON
// error for the 400 reply.
func ParseText(data []byte) (*TextFrame, error) {
	var frame TextFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("json parse: %w", err)
	}
	if frame.Type == "" || len(frame.Payload) == 0 {
		return nil, ErrInvalidTextFrame
	}
	return &frame, nil
}

// CheckVersion enforces the configured protocol floor. An empty minimum
// disables the check. Unparseable received versions are treated as below
// the floor.
func CheckVersion(received, minimum string) error {
	if minimum == "" {
		return nil
	}
	got := canonicalVersion(received)
	min := canonicalVersion(minimum)
	if !semver.IsValid(got) || semver.Compare(got, min) < 0 {
		return &VersionError{Received: received, Minimum: minimum}
	}
	return nil
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// PayloadFields decodes a text payload into a generic field map for the
// per-platform merge.
func PayloadFields(payload json.RawMessage) (map[string]any, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("json parse: %w", err)
	}
	return fields, nil
}
