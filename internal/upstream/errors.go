package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// ErrResponseTooLarge is returned when the webhook reply exceeds the
// configured size cap. The reply is discarded rather than truncated.
var ErrResponseTooLarge = errors.New("webhook reply too large")

// ConnectivityError reports that the webhook call could not be completed:
// DNS, refused or reset connections, TLS failures, timeouts, truncated bodies
// and non-2xx answers all land here.
type ConnectivityError struct {
	Op         string // "request", "read" or "status"
	StatusCode int    // set when Op is "status"
	Err        error
}

func (e *ConnectivityError) Error() string {
	if e.Op == "status" {
		return fmt.Sprintf("HTTP Error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Timeout() {
		return "request timed out"
	}
	return e.Err.Error()
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Timeout reports whether the bounded wait elapsed.
func (e *ConnectivityError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsConnectivity reports whether err is a connection-level fault.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// stripURL drops the *url.Error wrapper, whose message repeats the full
// request URL including the chat text and the webhook's secret path.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
