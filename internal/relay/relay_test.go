package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"chatrelay/internal/domain"
	"chatrelay/internal/tracing"
	"chatrelay/internal/upstream"
)

const testWebhook = "http://n8n.local:5678/webhook/chat"

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)

type mockWebhook struct {
	mock.Mock
}

func (m *mockWebhook) Get(ctx context.Context, out domain.OutboundWebhookRequest) (*upstream.Response, error) {
	args := m.Called(ctx, out)
	resp, _ := args.Get(0).(*upstream.Response)
	return resp, args.Error(1)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestRelay(webhookURL string, hook Webhook) *Relay {
	return New(Config{
		WebhookURL: webhookURL,
		Webhook:    hook,
		Logger:     quietLogger(),
		Now:        func() time.Time { return fixedNow },
	})
}

func replyWith(body string) *mockWebhook {
	hook := new(mockWebhook)
	hook.On("Get", mock.Anything, mock.Anything).Return(&upstream.Response{StatusCode: 200, Body: []byte(body)}, nil)
	return hook
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestForward_Success(t *testing.T) {
	hook := replyWith(`{"text":"Hi there"}`)
	r := newTestRelay(testWebhook, hook)

	rec := do(t, r, http.MethodPost, DefaultMountPath,
		`{"message":"hello","timestamp":"2024-01-01T00:00:00Z","sessionId":"s1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assertCORS(t, rec)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Hi there", body["response"])
	assert.Equal(t, "2024-05-06T07:08:09.123456Z", body["timestamp"])

	hook.AssertNumberOfCalls(t, "Get", 1)
	out := hook.Calls[0].Arguments.Get(1).(domain.OutboundWebhookRequest)
	assert.Equal(t, testWebhook+"?message=hello&timestamp=2024-01-01T00%3A00%3A00Z&sessionId=s1", out.URL)
}

func TestForward_DefaultsMissingFields(t *testing.T) {
	hook := replyWith(`ok`)
	r := newTestRelay(testWebhook, hook)

	rec := do(t, r, http.MethodPost, DefaultMountPath, `{"message":null}`)
	require.Equal(t, http.StatusOK, rec.Code)

	out := hook.Calls[0].Arguments.Get(1).(domain.OutboundWebhookRequest)
	assert.Equal(t, domain.InboundChatRequest{
		Message:   "",
		Timestamp: "2024-05-06T07:08:09.123456Z",
		SessionID: "unknown",
	}, out.Inbound)
}

func TestForward_IgnoresQueryStringWhenRouting(t *testing.T) {
	hook := replyWith(`{"response":"hey"}`)
	r := newTestRelay(testWebhook, hook)

	rec := do(t, r, http.MethodPost, DefaultMountPath+"?debug=1", `{"message":"x"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hey", decode(t, rec)["response"])
}

func TestForward_MalformedInputNeverDispatches(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"syntax error", `{"message": `, "Invalid JSON format"},
		{"empty body", ``, "Invalid JSON format"},
		{"invalid utf-8", "{\"message\":\"\xff\"}", "Invalid JSON format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := new(mockWebhook)
			r := newTestRelay(testWebhook, hook)

			rec := do(t, r, http.MethodPost, DefaultMountPath, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assertCORS(t, rec)
			assert.Equal(t, map[string]any{"error": tt.want}, decode(t, rec))
			hook.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
		})
	}
}

func TestForward_NonObjectJSONIsInternalError(t *testing.T) {
	for _, body := range []string{`["hi"]`, `null`, `42`, `"hello"`} {
		hook := new(mockWebhook)
		r := newTestRelay(testWebhook, hook)

		rec := do(t, r, http.MethodPost, DefaultMountPath, body)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, body)
		assertCORS(t, rec)
		assert.Equal(t, map[string]any{"error": "Internal server error"}, decode(t, rec), body)
		hook.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	}
}

func TestForward_BodyTooLarge(t *testing.T) {
	hook := new(mockWebhook)
	r := New(Config{
		WebhookURL:   testWebhook,
		Webhook:      hook,
		MaxBodyBytes: 16,
		Logger:       quietLogger(),
	})

	rec := do(t, r, http.MethodPost, DefaultMountPath, `{"message":"this is far too long"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Request body too large", decode(t, rec)["error"])
	hook.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestForward_NotConfigured(t *testing.T) {
	hook := new(mockWebhook)
	r := newTestRelay("", hook)

	rec := do(t, r, http.MethodPost, DefaultMountPath, `{"message":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assertCORS(t, rec)
	body := decode(t, rec)
	assert.NotEmpty(t, body["error"])
	assert.NotContains(t, body, "success")
	hook.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestForward_ConfigCheckedBeforeBody(t *testing.T) {
	r := newTestRelay("", new(mockWebhook))
	rec := do(t, r, http.MethodPost, DefaultMountPath, `not json`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestForward_UpstreamConnectivity(t *testing.T) {
	hook := new(mockWebhook)
	hook.On("Get", mock.Anything, mock.Anything).Return(nil, &upstream.ConnectivityError{
		Op:  "request",
		Err: errors.New("connection refused"),
	})
	r := newTestRelay(testWebhook, hook)

	rec := do(t, r, http.MethodPost, DefaultMountPath, `{"message":"hello"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, map[string]any{
		"success":  false,
		"error":    "Failed to connect to webhook: connection refused",
		"response": FallbackUnreachable,
	}, decode(t, rec))
	hook.AssertNumberOfCalls(t, "Get", 1)
}

func TestForward_UnclassifiedFailure(t *testing.T) {
	hook := new(mockWebhook)
	hook.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
	r := newTestRelay(testWebhook, hook)

	rec := do(t, r, http.MethodPost, DefaultMountPath, `{"message":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{
		"success":  false,
		"error":    "Server error: boom",
		"response": FallbackInternal,
	}, decode(t, rec))
}

func TestForward_OversizedReplyIsServerError(t *testing.T) {
	hook := new(mockWebhook)
	hook.On("Get", mock.Anything, mock.Anything).Return(nil,
		fmt.Errorf("%w: more than 16 bytes", upstream.ErrResponseTooLarge))
	r := newTestRelay(testWebhook, hook)

	rec := do(t, r, http.MethodPost, DefaultMountPath, `{"message":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{
		"success":  false,
		"error":    "Server error: webhook reply too large: more than 16 bytes",
		"response": FallbackInternal,
	}, decode(t, rec))
}

func TestForward_UnusableWebhookURL(t *testing.T) {
	hook := new(mockWebhook)
	r := newTestRelay("ftp://n8n.local/hook", hook)

	rec := do(t, r, http.MethodPost, DefaultMountPath, `{"message":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.True(t, strings.HasPrefix(body["error"].(string), "Server error: "))
	hook.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

type panicWebhook struct{}

func (panicWebhook) Get(context.Context, domain.OutboundWebhookRequest) (*upstream.Response, error) {
	panic("unexpected")
}

func TestForward_PanicIsInternalError(t *testing.T) {
	r := newTestRelay(testWebhook, panicWebhook{})

	rec := do(t, r, http.MethodPost, DefaultMountPath, `{"message":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, map[string]any{"error": "Internal server error"}, decode(t, rec))
}

func TestForward_DirectCall(t *testing.T) {
	r := newTestRelay(testWebhook, replyWith(`{"text":"hi"}`))

	reply, err := r.Forward(context.Background(), DefaultMountPath, strings.NewReader(`{"message":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", reply)

	_, err = r.Forward(context.Background(), "/elsewhere", strings.NewReader(`{}`))
	assert.Equal(t, KindRouting, KindOf(err))
}

func TestRouting_UnknownPaths(t *testing.T) {
	hook := new(mockWebhook)
	r := newTestRelay(testWebhook, hook)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/other"},
		{http.MethodPost, DefaultMountPath + "/"},
		{http.MethodGet, DefaultMountPath},
		{http.MethodGet, "/"},
	} {
		rec := do(t, r, tc.method, tc.path, `{"message":"x"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.method+" "+tc.path)
		assertCORS(t, rec)
		assert.Equal(t, map[string]any{"error": "Endpoint not found"}, decode(t, rec))
	}
	hook.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestRouting_MethodNotAllowed(t *testing.T) {
	r := newTestRelay(testWebhook, new(mockWebhook))
	rec := do(t, r, http.MethodDelete, DefaultMountPath, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Allow"))
}

func TestPreflight_AnyPathWithoutConfig(t *testing.T) {
	r := newTestRelay("", new(mockWebhook))

	for _, path := range []string{DefaultMountPath, "/anything", "/"} {
		rec := do(t, r, http.MethodOptions, path, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assertCORS(t, rec)
		assert.Empty(t, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	hook := new(mockWebhook)
	r := newTestRelay("", hook)

	rec := do(t, r, http.MethodGet, DefaultMountPath+"/health?x=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, map[string]any{
		"status":      "healthy",
		"service":     ServiceName,
		"timestamp":   "2024-05-06T07:08:09.123456Z",
		"environment": "development",
	}, decode(t, rec))
	hook.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestHealth_Production(t *testing.T) {
	r := New(Config{Production: true, MountPath: "/relay", Logger: quietLogger()})
	assert.Equal(t, "production", r.HealthCheck().Environment)
	assert.Equal(t, "/relay/health", r.HealthPath())
}

func TestRequestIDIsEchoed(t *testing.T) {
	r := newTestRelay(testWebhook, replyWith("ok"))
	req := httptest.NewRequest(http.MethodPost, DefaultMountPath, strings.NewReader(`{}`))
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestKind_Status(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, KindRouting.Status())
	assert.Equal(t, http.StatusInternalServerError, KindConfiguration.Status())
	assert.Equal(t, http.StatusBadRequest, KindMalformedInput.Status())
	assert.Equal(t, http.StatusBadGateway, KindUpstreamConnectivity.Status())
	assert.Equal(t, http.StatusInternalServerError, KindUnclassifiedForwarding.Status())
	assert.Equal(t, http.StatusInternalServerError, KindUnhandledInternal.Status())
	assert.Equal(t, KindUnhandledInternal, KindOf(errors.New("plain")))
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestForward_RecordsSpans(t *testing.T) {
	tests := []struct {
		name    string
		hook    *mockWebhook
		status  int64
		outcome string
	}{
		{"success", replyWith(`{"text":"hi"}`), 200, "ok"},
		{"unreachable", func() *mockWebhook {
			hook := new(mockWebhook)
			hook.On("Get", mock.Anything, mock.Anything).Return(nil,
				&upstream.ConnectivityError{Op: "request", Err: errors.New("connection refused")})
			return hook
		}(), 502, "upstream_connectivity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := tracetest.NewSpanRecorder()
			r := New(Config{
				WebhookURL: testWebhook,
				Webhook:    tt.hook,
				Tracer:     tracing.FromProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))),
				Logger:     quietLogger(),
			})

			rec := do(t, r, http.MethodPost, DefaultMountPath, `{"message":"hello","sessionId":"s1"}`)
			require.Equal(t, int(tt.status), rec.Code)

			ended := sr.Ended()
			require.Len(t, ended, 2)
			dispatch, forward := ended[0], ended[1]
			assert.Equal(t, "relay.dispatch", dispatch.Name())
			assert.Equal(t, "relay.forward", forward.Name())
			assert.Equal(t, forward.SpanContext().SpanID(), dispatch.Parent().SpanID())

			for _, span := range ended {
				a := spanAttrs(span)
				assert.Equal(t, tt.status, a["http.status_code"].AsInt64(), span.Name())
				assert.Equal(t, tt.outcome, a["relay.outcome"].AsString(), span.Name())
			}
			assert.Equal(t, "s1", spanAttrs(dispatch)["relay.session_id"].AsString())
			assert.Equal(t, rec.Header().Get("X-Request-ID"), spanAttrs(forward)["relay.request_id"].AsString())
		})
	}
}

func TestForward_NoDispatchSpanWhenRejected(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	r := New(Config{
		WebhookURL: testWebhook,
		Webhook:    new(mockWebhook),
		Tracer:     tracing.FromProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))),
		Logger:     quietLogger(),
	})

	rec := do(t, r, http.MethodPost, DefaultMountPath, `{bad`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "relay.forward", ended[0].Name())
	assert.Equal(t, "malformed_input", spanAttrs(ended[0])["relay.outcome"].AsString())
}
