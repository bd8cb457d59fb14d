package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"chatrelay/internal/domain"
)

var (
	errInvalidJSON = errors.New("Invalid JSON format")
	errNotObject   = errors.New("request body is not a JSON object")
)

// ParseInbound decodes a chat request body. Syntactically invalid JSON yields
// errInvalidJSON and valid JSON that is not an object yields errNotObject.
// Absent fields take their defaults, with timestamp defaulting to now.
func ParseInbound(raw []byte, now time.Time) (domain.InboundChatRequest, error) {
	if !utf8.Valid(raw) {
		return domain.InboundChatRequest{}, errInvalidJSON
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		if json.Valid(raw) {
			return domain.InboundChatRequest{}, errNotObject
		}
		return domain.InboundChatRequest{}, errInvalidJSON
	}
	if fields == nil {
		// the literal null
		return domain.InboundChatRequest{}, errNotObject
	}

	return domain.InboundChatRequest{
		Message:   fieldText(fields, "message", ""),
		Timestamp: fieldText(fields, "timestamp", domain.FormatTimestamp(now)),
		SessionID: fieldText(fields, "sessionId", domain.DefaultSessionID),
	}, nil
}

// fieldText returns a field as text. Strings are used as-is, null counts as
// absent and any other JSON value is rendered compactly.
func fieldText(fields map[string]json.RawMessage, key, def string) string {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}
