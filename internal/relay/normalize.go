package relay

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// EmptyReplyPlaceholder stands in for a webhook answer with no visible text.
const EmptyReplyPlaceholder = "Message received by webhook (empty response)"

// replyKeys are the object fields consulted for the reply text, in order.
var replyKeys = []string{"text", "response"}

type textDecoder struct {
	name   string
	decode func([]byte) (string, bool)
}

// decoders is tried in order; the first that accepts the bytes wins.
var decoders = []textDecoder{
	{name: "utf-8", decode: decodeUTF8},
	{name: "latin-1", decode: decodeLatin1},
}

func decodeUTF8(raw []byte) (string, bool) {
	if !utf8.Valid(raw) {
		return "", false
	}
	return string(raw), true
}

func decodeLatin1(raw []byte) (string, bool) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// DecodeText turns a raw webhook body into text. Latin-1 maps every byte, so
// the chain never fails in practice; the last resort keeps bytes as-is.
func DecodeText(raw []byte) string {
	for _, d := range decoders {
		if s, ok := d.decode(raw); ok {
			return s
		}
	}
	return string(raw)
}

// NormalizeReply derives the single reply string from a raw webhook body.
func NormalizeReply(raw []byte) string {
	return ExtractReply(DecodeText(raw))
}

// ExtractReply picks the reply out of decoded webhook text: a truthy "text"
// field, then a truthy "response" field, else the text itself.
func ExtractReply(text string) string {
	if strings.TrimSpace(text) == "" {
		return EmptyReplyPlaceholder
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return text
	}
	for _, key := range replyKeys {
		if s, ok := truthyText(obj[key]); ok {
			return s
		}
	}
	return text
}

// truthyText reports whether raw holds a non-empty value and renders it.
// Null, false, zero, "" and empty containers are not truthy.
func truthyText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false
	}

	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case bool:
		if !x {
			return "", false
		}
	case json.Number:
		if f, err := x.Float64(); err == nil && f == 0 {
			return "", false
		}
	case []any:
		if len(x) == 0 {
			return "", false
		}
	case map[string]any:
		if len(x) == 0 {
			return "", false
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw), true
	}
	return buf.String(), true
}
