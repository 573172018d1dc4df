package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIdempotentAndHandlerServes(t *testing.T) {
	Init()
	Init()

	ObserveFetch("ok")
	ObserveTarget("found")
	ObserveFlush()
	ObservePacingDelay(250 * time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "wikisync_fetch_requests_total")
}

func TestObserveBeforeInitIsSafe(t *testing.T) {
	// Collectors are package-level; this only verifies the nil guards
	// do not panic when Init was never reached in another binary.
	ObserveFetch("ok")
	ObserveTarget("found")
}
