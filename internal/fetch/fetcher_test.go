package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gearshed/camsync/internal/catalog"
)

func testConfig() Config {
	return Config{
		UserAgent:   "camsync-test",
		Timeout:     2 * time.Second,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}
}

func TestFetchSourceArrayPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"brand":"Nikon","model":"Zf"},{"brand":"Sony","model":"A1 II"}]`))
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	records, err := f.FetchSource(context.Background(), catalog.Source{Name: "dump", URL: srv.URL})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "dump", records[0].Source)
	require.Equal(t, "Nikon", records[0].Fields["brand"])
}

func TestFetchSourceWrappedPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"generated_at":"2026-01-01","cameras":[{"brand":"Canon","model":"R1"}]}`))
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	records, err := f.FetchSource(context.Background(), catalog.Source{Name: "wrapped", URL: srv.URL})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Canon", records[0].Fields["brand"])
}

func TestFetchSourceSameURLAcrossCycles(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"brand":"Fujifilm","model":"X-T6"}]`))
	}))
	defer srv.Close()

	// One long-lived Fetcher polls the same feed on every discovery cycle.
	f := New(testConfig(), nil)
	src := catalog.Source{Name: "feed", URL: srv.URL}

	for cycle := 0; cycle < 3; cycle++ {
		records, err := f.FetchSource(context.Background(), src)
		require.NoError(t, err)
		require.Len(t, records, 1)
	}
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchSourceRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[{"brand":"OM System","model":"OM-1"}]`))
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	records, err := f.FetchSource(context.Background(), catalog.Source{Name: "flaky", URL: srv.URL})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchSourceUnavailableAfterRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	_, err := f.FetchSource(context.Background(), catalog.Source{Name: "down", URL: srv.URL})
	require.ErrorIs(t, err, catalog.ErrSourceUnavailable)
	// initial attempt + MaxRetries
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchSourceClientErrorDoesNotRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	_, err := f.FetchSource(context.Background(), catalog.Source{Name: "gone", URL: srv.URL})
	require.ErrorIs(t, err, catalog.ErrSourceUnavailable)
	require.Equal(t, int32(1), calls.Load())
}

func TestFetchSourceMalformedPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	_, err := f.FetchSource(context.Background(), catalog.Source{Name: "html", URL: srv.URL})
	require.ErrorIs(t, err, catalog.ErrMalformedPayload)
}

func TestFetchSourceWrapperWithoutKnownKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"stuff":[]}`))
	}))
	defer srv.Close()

	f := New(testConfig(), nil)
	_, err := f.FetchSource(context.Background(), catalog.Source{Name: "odd", URL: srv.URL})
	require.ErrorIs(t, err, catalog.ErrMalformedPayload)
}

func TestRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()

	p := newRetryPolicy(3, 100*time.Millisecond, time.Second)
	for attempt := 0; attempt < 6; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
}

func TestSourceLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := newSourceLimiter(0.001)
	// First token is available immediately.
	require.NoError(t, l.Wait(context.Background(), "slow", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "slow", 0)
	require.Error(t, err)
}
