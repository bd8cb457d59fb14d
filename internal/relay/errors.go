package relay

import (
	"errors"
	"net/http"
)

// Kind classifies why a relay operation failed. Each kind maps to exactly one
// HTTP status and envelope shape.
type Kind int

const (
	KindRouting Kind = iota + 1
	KindConfiguration
	KindMalformedInput
	KindUpstreamConnectivity
	KindUnclassifiedForwarding
	KindUnhandledInternal
)

func (k Kind) String() string {
	switch k {
	case KindRouting:
		return "routing"
	case KindConfiguration:
		return "configuration"
	case KindMalformedInput:
		return "malformed_input"
	case KindUpstreamConnectivity:
		return "upstream_connectivity"
	case KindUnclassifiedForwarding:
		return "unclassified_forwarding"
	case KindUnhandledInternal:
		return "unhandled_internal"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status code reported for k.
func (k Kind) Status() int {
	switch k {
	case KindRouting:
		return http.StatusNotFound
	case KindMalformedInput:
		return http.StatusBadRequest
	case KindUpstreamConnectivity:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every failing relay gate.
type Error struct {
	Kind Kind
	Msg  string // caller-facing text
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	default:
		return e.Msg + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind carried by err. Errors that are not *Error are
// unhandled internal faults.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnhandledInternal
}

func errNotFound() error {
	return &Error{Kind: KindRouting, Msg: "Endpoint not found"}
}

func errNotConfigured() error {
	return &Error{Kind: KindConfiguration, Msg: "Webhook URL not configured"}
}

func errMalformed(msg string, cause error) error {
	return &Error{Kind: KindMalformedInput, Msg: msg, Err: cause}
}
