package channel

// Reply is the envelope sent back for every inbound frame. Status follows
// the HTTP-like taxonomy: 200 processed, 202 transient retry, 400 malformed
// or version mismatch, 401 unauthenticated, 428 preconditions missing,
// 500 internal failure.
type Reply struct {
	Status  int            `json:"status"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Retry   bool           `json:"retry,omitempty"`
	Cached  bool           `json:"cached,omitempty"`
	Missing []string       `json:"missing,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Policy close codes (websocket application range).
const (
	CloseUnauthenticated = 4001
	CloseVersionMismatch = 4002
)

// Symbolic reasons carried in Reply.Reason.
const (
	ReasonJSONParse         = "json_parse"
	ReasonMalformedFrame    = "malformed_frame"
	ReasonUnknownBinaryType = "unknown_binary_type"
	ReasonMissingPlatform   = "missing_platform"
	ReasonExtractionFailed  = "extraction_failed"
	ReasonUnauthenticated   = "unauthenticated"
)
