package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
	"chatrelay/internal/tracing"
	"chatrelay/internal/upstream"
)

// outcome is the internal result of one Forward call.
type outcome struct {
	reply   string
	inbound domain.InboundChatRequest
	err     error
}

// Forward relays one chat request: it checks the path and configuration,
// parses body, calls the webhook once and returns the normalized reply.
// Failures are *Error values whose Kind decides the HTTP status.
func (r *Relay) Forward(ctx context.Context, path string, body io.Reader) (string, error) {
	res := r.forward(ctx, r.logger, path, body)
	return res.reply, res.err
}

func (r *Relay) serveForward(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	requestID := req.Header.Get(headerRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(headerRequestID, requestID)
	log := r.logger.With("request_id", requestID)

	metrics.InflightRequests.Inc()
	defer metrics.InflightRequests.Dec()

	ctx, span := r.tracer.StartForward(req.Context(), requestID)
	res := r.forward(ctx, log, req.URL.Path, req.Body)
	status, body := r.respond(res)

	label := "ok"
	if res.err != nil {
		label = KindOf(res.err).String()
	}
	tracing.End(span, status, label, res.err)
	metrics.Requests("forward", label).Inc()

	attrs := []any{
		"status", status,
		"outcome", label,
		"latency_ms", time.Since(start).Milliseconds(),
	}
	if res.inbound.SessionID != "" {
		attrs = append(attrs, "session_id", res.inbound.SessionID, "message_len", len(res.inbound.Message))
	}
	switch {
	case status >= http.StatusInternalServerError:
		log.Error("forward failed", append(attrs, "error", res.err)...)
	case res.err != nil:
		log.Warn("forward rejected", append(attrs, "error", res.err)...)
	default:
		log.Info("forward completed", attrs...)
	}

	r.writeJSON(w, status, body)
}

// respond maps an outcome to its status code and envelope.
func (r *Relay) respond(res outcome) (int, any) {
	if res.err == nil {
		return http.StatusOK, domain.SuccessEnvelope{
			Success:   true,
			Response:  res.reply,
			Timestamp: domain.FormatTimestamp(r.now()),
		}
	}

	var re *Error
	if !errors.As(res.err, &re) {
		return http.StatusInternalServerError, domain.ErrorBody{Error: "Internal server error"}
	}
	switch re.Kind {
	case KindRouting, KindConfiguration, KindMalformedInput:
		return re.Kind.Status(), domain.ErrorBody{Error: re.Msg}
	case KindUpstreamConnectivity:
		return re.Kind.Status(), domain.FailureEnvelope{
			Error:    "Failed to connect to webhook: " + re.Err.Error(),
			Response: FallbackUnreachable,
		}
	case KindUnclassifiedForwarding:
		return re.Kind.Status(), domain.FailureEnvelope{
			Error:    "Server error: " + re.Err.Error(),
			Response: FallbackInternal,
		}
	default:
		return http.StatusInternalServerError, domain.ErrorBody{Error: "Internal server error"}
	}
}

// forward runs the gates in order. No outbound call happens unless every gate
// before dispatch passed.
func (r *Relay) forward(ctx context.Context, log *slog.Logger, path string, body io.Reader) (res outcome) {
	defer func() {
		if p := recover(); p != nil {
			res = outcome{inbound: res.inbound, err: &Error{Kind: KindUnhandledInternal, Err: fmt.Errorf("panic: %v", p)}}
		}
	}()

	if path != r.mountPath {
		return outcome{err: errNotFound()}
	}
	if r.webhookURL == "" {
		return outcome{err: errNotConfigured()}
	}

	raw, err := readBody(body, r.maxBody)
	if err != nil {
		return outcome{err: err}
	}
	in, err := ParseInbound(raw, r.now())
	if errors.Is(err, errNotObject) {
		// valid JSON without fields to read; not a malformed-input case
		return outcome{err: &Error{Kind: KindUnhandledInternal, Err: err}}
	}
	if err != nil {
		return outcome{err: errMalformed(err.Error(), nil)}
	}
	res.inbound = in

	out, err := upstream.Translate(r.webhookURL, in)
	if err != nil {
		res.err = &Error{Kind: KindUnclassifiedForwarding, Err: err}
		return res
	}

	dctx, span := r.tracer.StartDispatch(ctx, hostOf(out.URL), in.SessionID)
	start := time.Now()
	resp, err := r.webhook.Get(dctx, out)
	metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		kind := KindUnclassifiedForwarding
		if upstream.IsConnectivity(err) {
			kind = KindUpstreamConnectivity
		}
		tracing.End(span, kind.Status(), kind.String(), err)
		res.err = &Error{Kind: kind, Err: err}
		return res
	}
	tracing.End(span, resp.StatusCode, "ok", nil)
	log.Debug("webhook answered", "session_id", in.SessionID, "bytes", len(resp.Body), "upstream_status", resp.StatusCode)

	res.reply = NormalizeReply(resp.Body)
	return res
}

// readBody reads at most limit bytes. A larger body is malformed input.
func readBody(body io.Reader, limit int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, &Error{Kind: KindUnhandledInternal, Msg: "read request body", Err: err}
	}
	if int64(len(raw)) > limit {
		return nil, errMalformed("Request body too large", nil)
	}
	return raw, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
