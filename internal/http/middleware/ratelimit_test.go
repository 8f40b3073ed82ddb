package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/buyer-lead-intake/internal/identity"
	"github.com/wolfman30/buyer-lead-intake/internal/ratelimit"
)

func TestClientIdentity(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		user    string
		want    string
	}{
		{name: "principal wins", headers: map[string]string{"X-Forwarded-For": "1.1.1.1"}, user: "u-9", want: "user:u-9"},
		{name: "first forwarded", headers: map[string]string{"X-Forwarded-For": " 1.1.1.1 , 2.2.2.2", "X-Real-IP": "3.3.3.3"}, want: "ip:1.1.1.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "3.3.3.3"}, want: "ip:3.3.3.3"},
		{name: "unknown", want: "ip:unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/buyers", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if tc.user != "" {
				req = req.WithContext(identity.WithPrincipal(req.Context(), identity.Principal{ID: tc.user}))
			}
			assert.Equal(t, tc.want, ClientIdentity(req))
		})
	}
}

func TestSlidingWindowHeadersAndDenial(t *testing.T) {
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	limiter := ratelimit.New("create", 2, time.Minute, ratelimit.WithClock(func() time.Time { return now }))
	calls := 0
	handler := SlidingWindow(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/buyers", nil)
		req = req.WithContext(identity.WithPrincipal(req.Context(), identity.Principal{ID: "u-1"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(now.Add(time.Minute).Unix(), 10), first.Header().Get("X-RateLimit-Reset"))

	require.Equal(t, http.StatusCreated, send().Code)

	denied := send()
	require.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.Equal(t, "0", denied.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", denied.Header().Get("Retry-After"))

	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(denied.Body.Bytes(), &body))
	assert.Equal(t, "Too many requests. Please try again later.", body.Error)
	assert.Equal(t, 60, body.RetryAfter)
	assert.Equal(t, 2, calls)
}

func TestIngressLimiterBurst(t *testing.T) {
	l := NewIngressLimiter(0.001, 2)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"))
}

func TestIngressLimiterEvictsIdleClients(t *testing.T) {
	l := NewIngressLimiter(1, 1)
	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.evict(time.Now().Add(time.Second)))
	assert.Empty(t, l.clients)
}

func TestIngressLimiterRunStops(t *testing.T) {
	l := NewIngressLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	mw := RateLimit(NewIngressLimiter(0.001, 1))
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := httptest.NewRequest(http.MethodGet, "/health", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddlewareIgnoresSpoofedRealIP(t *testing.T) {
	mw := RateLimit(NewIngressLimiter(0.001, 1))
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest(http.MethodGet, "/health", nil)
	first.RemoteAddr = "10.0.0.9:4000"
	first.Header.Set("X-Real-IP", "203.0.113.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	second := httptest.NewRequest(http.MethodGet, "/health", nil)
	second.RemoteAddr = "10.0.0.9:4001"
	second.Header.Set("X-Real-IP", "203.0.113.2")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
