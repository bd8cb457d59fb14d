package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"chatrelay/internal/domain"
)

const (
	// DefaultTimeout bounds the single outbound call made per Forward.
	DefaultTimeout = 10 * time.Second

	defaultMaxResponseBytes = 4 << 20
	userAgent               = "chatrelay/1.0"
)

// Doer is the part of *http.Client the relay depends on.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       Doer // defaults to NewHTTPClient(Timeout)
}

// Client performs the outbound webhook GET. It never retries.
type Client struct {
	http        Doer
	timeout     time.Duration
	maxResponse int64
}

// Response is the raw remote payload.
type Response struct {
	StatusCode int
	Body       []byte
	Latency    time.Duration
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(cfg.Timeout)
	}
	return &Client{
		http:        cfg.HTTPClient,
		timeout:     cfg.Timeout,
		maxResponse: cfg.MaxResponseBytes,
	}
}

// Translate builds the outbound request for in: its three fields become form
// encoded query parameters, in fixed order, appended to base.
func Translate(base string, in domain.InboundChatRequest) (domain.OutboundWebhookRequest, error) {
	u, err := url.Parse(base)
	if err != nil {
		return domain.OutboundWebhookRequest{}, fmt.Errorf("parse webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.OutboundWebhookRequest{}, fmt.Errorf("unsupported webhook url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return domain.OutboundWebhookRequest{}, fmt.Errorf("webhook url has no host")
	}

	query := "message=" + url.QueryEscape(in.Message) +
		"&timestamp=" + url.QueryEscape(in.Timestamp) +
		"&sessionId=" + url.QueryEscape(in.SessionID)
	if u.RawQuery != "" {
		u.RawQuery += "&" + query
	} else {
		u.RawQuery = query
	}
	u.ForceQuery = false

	return domain.OutboundWebhookRequest{URL: u.String(), Inbound: in}, nil
}

// Get issues out as a GET request bounded by the client timeout and returns
// the raw body. Connection-level faults and non-2xx answers come back as
// *ConnectivityError; anything else, including a body over the size cap, is a
// plain error.
func (c *Client) Get(ctx context.Context, out domain.OutboundWebhookRequest) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, out.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Op: "request", Err: stripURL(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse+1))
	latency := time.Since(start)
	if err != nil {
		return nil, &ConnectivityError{Op: "read", Err: stripURL(err)}
	}
	if int64(len(body)) > c.maxResponse {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxResponse)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ConnectivityError{
			Op:         "status",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("webhook returned %d", resp.StatusCode),
		}
	}

	return &Response{StatusCode: resp.StatusCode, Body: body, Latency: latency}, nil
}
