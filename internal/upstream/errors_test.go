package upstream

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusErrorClassification(t *testing.T) {
	cases := []struct {
		status      int
		wantClass   Class
		rateLimited bool
	}{
		{http.StatusTooManyRequests, ClassTransient, true},
		{http.StatusInternalServerError, ClassTransient, false},
		{http.StatusBadGateway, ClassTransient, false},
		{http.StatusServiceUnavailable, ClassTransient, false},
		{http.StatusBadRequest, ClassFatal, false},
		{http.StatusNotFound, ClassFatal, false},
		{http.StatusForbidden, ClassFatal, false},
	}
	for _, tc := range cases {
		e := StatusError("ucsc", tc.status, nil, "")
		require.Equal(t, tc.wantClass, e.Class, "status %d", tc.status)
		require.Equal(t, tc.rateLimited, e.RateLimited, "status %d", tc.status)
		require.Equal(t, tc.status, e.Status)
	}
}

func TestStatusErrorParsesRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "120")
	e := StatusError("ncbi", http.StatusTooManyRequests, header, "")
	require.Equal(t, 2*time.Minute, e.RetryAfter)

	// HTTP-date form.
	header.Set("Retry-After", time.Now().Add(30*time.Second).UTC().Format(http.TimeFormat))
	e = StatusError("ncbi", http.StatusTooManyRequests, header, "")
	require.Greater(t, e.RetryAfter, 20*time.Second)
	require.LessOrEqual(t, e.RetryAfter, 30*time.Second)

	// Garbage is ignored rather than rejected.
	header.Set("Retry-After", "soon")
	e = StatusError("ncbi", http.StatusTooManyRequests, header, "")
	require.Zero(t, e.RetryAfter)

	// Retry-After on a non-429 status has no meaning here.
	header.Set("Retry-After", "120")
	e = StatusError("ncbi", http.StatusInternalServerError, header, "")
	require.Zero(t, e.RetryAfter)
}

func TestAsErrorWrapsUnclassified(t *testing.T) {
	raw := errors.New("dial tcp: connection refused")
	ue := AsError("ucsc", raw)
	require.Equal(t, ClassTransient, ue.Class)
	require.ErrorIs(t, ue, raw)

	// Already-classified errors pass through untouched, even when wrapped.
	fatal := FatalError("ucsc", errors.New("bad chromosome"))
	require.Same(t, fatal, AsError("ucsc", fatal))
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(NetworkError("ucsc", errors.New("timeout"))))
	require.True(t, IsTransient(errors.New("unclassified")))
	require.False(t, IsTransient(FatalError("ncbi", errors.New("not found"))))
}
