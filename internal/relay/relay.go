// Package relay implements the chat-to-webhook relay: routing, the Forward
// pipeline, reply normalization and the health check.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
	"chatrelay/internal/tracing"
	"chatrelay/internal/upstream"
)

const (
	// DefaultMountPath is where Forward is served unless configured otherwise.
	DefaultMountPath = "/api/webhook-proxy"

	defaultMaxBodyBytes = 1 << 20

	// FallbackUnreachable is shown to the end user when the webhook could not
	// be reached.
	FallbackUnreachable = "Connection to the chat service failed. Please check the webhook service."
	// FallbackInternal accompanies unclassified forwarding failures.
	FallbackInternal = "Internal server error occurred."

	headerRequestID = "X-Request-ID"
)

// Webhook performs the single outbound call. *upstream.Client satisfies it.
type Webhook interface {
	Get(ctx context.Context, out domain.OutboundWebhookRequest) (*upstream.Response, error)
}

// Config is resolved once at startup and not re-read per request.
type Config struct {
	WebhookURL   string // empty means Forward answers with a configuration error
	Production   bool
	MountPath    string
	MaxBodyBytes int64
	Webhook      Webhook
	Tracer       *tracing.Tracer
	Logger       *slog.Logger
	Now          func() time.Time
}

// Relay is an http.Handler serving the relay endpoints.
type Relay struct {
	webhookURL string
	production bool
	mountPath  string
	healthPath string
	maxBody    int64
	webhook    Webhook
	tracer     *tracing.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

func New(cfg Config) *Relay {
	if cfg.MountPath == "" {
		cfg.MountPath = DefaultMountPath
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Webhook == nil {
		cfg.Webhook = upstream.New(upstream.Config{})
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.New(false)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Relay{
		webhookURL: cfg.WebhookURL,
		production: cfg.Production,
		mountPath:  cfg.MountPath,
		healthPath: cfg.MountPath + "/health",
		maxBody:    cfg.MaxBodyBytes,
		webhook:    cfg.Webhook,
		tracer:     cfg.Tracer,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// MountPath returns the path Forward is served on.
func (r *Relay) MountPath() string { return r.mountPath }

// HealthPath returns the path of the health check.
func (r *Relay) HealthPath() string { return r.healthPath }

// ServeHTTP routes by method first, then by path. Query strings never take
// part in matching. Every response carries the CORS headers.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panic", "panic", p, "method", req.Method, "path", req.URL.Path)
			metrics.Requests("unknown", KindUnhandledInternal.String()).Inc()
			r.writeJSON(w, http.StatusInternalServerError, domain.ErrorBody{Error: "Internal server error"})
		}
	}()

	SetCORS(w.Header())

	switch req.Method {
	case http.MethodOptions:
		r.Preflight(w)
	case http.MethodGet:
		if req.URL.Path != r.healthPath {
			metrics.Requests("health", KindRouting.String()).Inc()
			r.writeJSON(w, http.StatusNotFound, domain.ErrorBody{Error: "Endpoint not found"})
			return
		}
		metrics.Requests("health", "ok").Inc()
		r.writeJSON(w, http.StatusOK, r.HealthCheck())
	case http.MethodPost:
		r.serveForward(w, req)
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		metrics.Requests("unknown", KindRouting.String()).Inc()
		r.writeJSON(w, http.StatusMethodNotAllowed, domain.ErrorBody{Error: "Method not allowed"})
	}
}

// Preflight answers a CORS preflight with 200 and an empty body. It does not
// depend on configuration or path.
func (r *Relay) Preflight(w http.ResponseWriter) {
	SetCORS(w.Header())
	metrics.Requests("preflight", "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

// SetCORS sets the three CORS headers every relay response carries.
func SetCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func (r *Relay) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		r.logger.Debug("write response", "error", err)
	}
}
