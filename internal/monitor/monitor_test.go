package monitor

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gearshed/camsync/internal/catalog"
)

type fakeStatsReader struct {
	stats catalog.Stats
	err   error
}

func (f *fakeStatsReader) AggregateStats(context.Context) (catalog.Stats, error) {
	if f.err != nil {
		return catalog.Stats{}, f.err
	}
	return f.stats, nil
}

func TestRunPublishesGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	store := &fakeStatsReader{stats: catalog.Stats{
		Total:           40,
		Verified:        30,
		Rumors:          10,
		WithImages:      28,
		CoveragePercent: 70,
	}}

	m, err := New(reg, store, nil)
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	require.Equal(t, 40.0, testutil.ToFloat64(m.total))
	require.Equal(t, 30.0, testutil.ToFloat64(m.verified))
	require.Equal(t, 10.0, testutil.ToFloat64(m.rumors))
	require.Equal(t, 28.0, testutil.ToFloat64(m.withImages))
	require.Equal(t, 70.0, testutil.ToFloat64(m.coverage))
}

func TestRunSurfacesStoreErrors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	store := &fakeStatsReader{err: fmt.Errorf("connection refused")}

	m, err := New(reg, store, nil)
	require.NoError(t, err)
	require.ErrorContains(t, m.Run(context.Background()), "read catalog stats")
}
