package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// sleepRecorder captures every wait the client asked for without
// actually sleeping.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// dropConnections closes the client connection for the first n
// requests, producing transient network errors, then serves body.
func dropConnections(t *testing.T, n int, body string) (*httptest.Server, *int) {
	t.Helper()
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= n {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &attempts
}

func newTestClient(cfg Config) (*Client, *sleepRecorder) {
	c := New(cfg, zap.NewNop())
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func TestGetBackoffSequencing(t *testing.T) {
	srv, attempts := dropConnections(t, 2, "ok")
	c, rec := newTestClient(Config{
		MaxRetries:         3,
		BackoffBase:        10 * time.Millisecond,
		RetryAfterFallback: 999 * time.Millisecond,
	})

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []byte("ok"), resp.Body)
	require.Equal(t, 3, *attempts)

	// Exactly two backoff waits, strictly increasing, and no
	// rate-limit wait anywhere in the sequence.
	waits := rec.recorded()
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)
	require.NotContains(t, waits, 999*time.Millisecond)
}

func TestGetRetriesExhausted(t *testing.T) {
	srv, attempts := dropConnections(t, 100, "never")
	c, rec := newTestClient(Config{
		MaxRetries:  1,
		BackoffBase: 5 * time.Millisecond,
	})

	_, err := c.Get(context.Background(), srv.URL)
	require.Error(t, err)
	require.Equal(t, 2, *attempts)
	require.Equal(t, []time.Duration{5 * time.Millisecond}, rec.recorded())
}

func TestGetRateLimitDoesNotConsumeRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	// Zero retries allowed: only the uncapped rate-limit path can
	// carry this request to success.
	c, rec := newTestClient(Config{MaxRetries: 0, BackoffBase: time.Millisecond})

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, attempts)
	require.Equal(t, []time.Duration{7 * time.Second, 7 * time.Second}, rec.recorded())
}

func TestGetRateLimitFallbackWait(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	c, rec := newTestClient(Config{RetryAfterFallback: 3 * time.Second})

	_, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{3 * time.Second}, rec.recorded())
}

func TestGetNotFoundIsTerminalNonError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	c, rec := newTestClient(Config{MaxRetries: 3})

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.True(t, resp.NotFound())
	require.Equal(t, 1, attempts)
	require.Empty(t, rec.recorded())
}

func TestGetAppliesIdentityHeaders(t *testing.T) {
	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	c, _ := newTestClient(Config{
		UserAgent: "wikisync-test/1.0",
		Headers:   map[string]string{"Accept-Language": "es-ES"},
	})

	_, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "wikisync-test/1.0", gotUA)
	require.Equal(t, "es-ES", gotLang)
}

func TestGet503WithRetryAfterIsRateLimit(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	c, rec := newTestClient(Config{MaxRetries: 0})

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []time.Duration{2 * time.Second}, rec.recorded())
}

func TestBackoffCap(t *testing.T) {
	t.Parallel()
	c := New(Config{BackoffBase: time.Second, BackoffMax: 3 * time.Second}, zap.NewNop())
	require.Equal(t, time.Second, c.backoff(0))
	require.Equal(t, 2*time.Second, c.backoff(1))
	require.Equal(t, 3*time.Second, c.backoff(2))
	require.Equal(t, 3*time.Second, c.backoff(10))
}
