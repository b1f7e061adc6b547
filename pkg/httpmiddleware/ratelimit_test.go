package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remoteAddr string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimitWindow(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	w := doRequest(handler, "10.0.0.1:9999", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	w = doRequest(handler, "10.0.0.1:9999", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = doRequest(handler, "10.0.0.1:9999", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, w.Body.String())

	// Other clients keep their own quota; ports do not matter.
	w = doRequest(handler, "10.0.0.2:1234", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(handler, "10.0.0.1:5678", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitForwardedFor(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	xff := map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}
	w := doRequest(handler, "192.168.1.1:4444", xff)
	assert.Equal(t, http.StatusOK, w.Code)

	// Same originating client behind a different proxy hop is limited.
	w = doRequest(handler, "192.168.1.2:5555", xff)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitCustomKey(t *testing.T) {
	handler := RateLimit(RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("X-Session-Token")
		},
	})(okHandler())

	w := doRequest(handler, "10.0.0.1:1", map[string]string{"X-Session-Token": "tok-a"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(handler, "10.0.0.2:2", map[string]string{"X-Session-Token": "tok-a"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	w = doRequest(handler, "10.0.0.1:3", map[string]string{"X-Session-Token": "tok-b"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitCleanup(t *testing.T) {
	l := newRateLimiter(RateLimitConfig{Max: 1, Window: 10 * time.Millisecond})

	now := time.Now()
	ok, _, _ := l.allow("a", now)
	require.True(t, ok)
	ok, _, _ = l.allow("a", now)
	require.False(t, ok)

	l.cleanup(now.Add(20 * time.Millisecond))
	assert.Empty(t, l.clients)

	ok, _, _ = l.allow("a", now.Add(25*time.Millisecond))
	assert.True(t, ok)
}
