package domain

import "time"

// DefaultSessionID is used when an inbound request carries no sessionId.
const DefaultSessionID = "unknown"

// TimestampLayout is the ISO-8601 layout used for every timestamp the relay emits.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// InboundChatRequest is the chat payload posted by a caller. It is parsed once
// per request and not modified afterwards.
type InboundChatRequest struct {
	Message   string
	Timestamp string
	SessionID string
}

// OutboundWebhookRequest is the GET call derived from an InboundChatRequest.
type OutboundWebhookRequest struct {
	URL     string
	Inbound InboundChatRequest
}

// SuccessEnvelope is returned with status 200 when the webhook answered.
type SuccessEnvelope struct {
	Success   bool   `json:"success"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

// FailureEnvelope is returned when the forwarding step itself failed.
// Response carries a fallback text suitable for showing to the end user.
type FailureEnvelope struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Response string `json:"response"`
}

// ErrorBody is the minimal body used for routing, parse and config errors.
type ErrorBody struct {
	Error string `json:"error"`
}

// HealthReport is the liveness check payload.
type HealthReport struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
}
