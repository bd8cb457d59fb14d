// Package client talks to a running relay the same way the browser chat
// widget does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/domain"
)

// FallbackReply is shown when the relay answered without any reply text.
const FallbackReply = "Response received from relay"

const jsTimestampLayout = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Endpoint   string // full relay URL, e.g. http://localhost:8080/api/webhook-proxy
	SessionID  string // default: NewSessionID(now)
	Timeout    time.Duration
	HTTPClient *http.Client
	Now        func() time.Time
}

// Client posts chat messages to the relay.
type Client struct {
	endpoint  string
	sessionID string
	http      *http.Client
	now       func() time.Time
}

// Reply is the relay's answer to one message.
type Reply struct {
	Text      string
	Timestamp string
}

// HTTPError is returned for non-2xx relay answers.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP error! status: %d: %s", e.StatusCode, e.Message)
}

func New(cfg Config) *Client {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.SessionID == "" {
		cfg.SessionID = NewSessionID(cfg.Now())
	}
	return &Client{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		sessionID: cfg.SessionID,
		http:      cfg.HTTPClient,
		now:       cfg.Now,
	}
}

// NewSessionID returns an id of the form session_<unix ms>_<9 random chars>.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), suffix)
}

func (c *Client) SessionID() string { return c.sessionID }

type envelope struct {
	Success   *bool  `json:"success"`
	Response  string `json:"response"`
	Message   string `json:"message"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Send posts message and returns the reply text.
func (c *Client) Send(ctx context.Context, message string) (*Reply, error) {
	payload, err := json.Marshal(map[string]string{
		"message":   message,
		"timestamp": c.now().UTC().Format(jsTimestampLayout),
		"sessionId": c.sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}

	var env envelope
	jsonErr := json.Unmarshal(body, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("decode reply: %w", jsonErr)
	}

	text := env.Response
	if text == "" {
		text = env.Message
	}
	if text == "" {
		text = FallbackReply
	}
	return &Reply{Text: text, Timestamp: env.Timestamp}, nil
}

// Health fetches the relay's health report.
func (c *Client) Health(ctx context.Context) (*domain.HealthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode}
	}
	var report domain.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode health report: %w", err)
	}
	return &report, nil
}
