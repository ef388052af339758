package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          30 * time.Millisecond,
		HalfOpenLimit:    1,
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := newBreaker("svc", testConfig(), nil)

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}
	require.Equal(t, Open, b.State())

	err := b.Execute(context.Background(), func(context.Context) error {
		t.Fatal("fn must not run while open")
		return nil
	})
	require.ErrorIs(t, err, ErrBreakerOpen)
}

func TestBreakerHalfOpenRecoversToClosedOnSuccesses(t *testing.T) {
	b := newBreaker("svc", testConfig(), nil)
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	}
	require.Equal(t, Open, b.State())

	time.Sleep(40 * time.Millisecond)

	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	require.Equal(t, HalfOpen, b.State())
	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	require.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker("svc", testConfig(), nil)
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	}
	time.Sleep(40 * time.Millisecond)

	err := b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, Open, b.State())
}

func TestBreakerRejectedCountsDontCountAsFailures(t *testing.T) {
	b := newBreaker("svc", testConfig(), nil)
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	}
	_ = b.Execute(context.Background(), func(context.Context) error { return nil })

	m := b.Metrics()
	require.EqualValues(t, 1, m.RejectedRequests)
	require.EqualValues(t, 3, m.FailureCount)
}

func TestManagerGetBreakerIsCreateOrGet(t *testing.T) {
	mgr := NewManager(testConfig(), nil)
	a := mgr.GetBreaker("svc-a", nil)
	b := mgr.GetBreaker("svc-a", nil)
	require.Same(t, a, b)
}

func TestManagerMaintenanceResetsStaleOpenBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	mgr := NewManager(cfg, nil)
	b := mgr.GetBreaker("svc", nil)
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	}
	require.Equal(t, Open, b.State())

	time.Sleep(30 * time.Millisecond) // > 2x timeout
	reset := mgr.RunMaintenance()
	require.Contains(t, reset, "svc")
	require.Equal(t, Closed, b.State())
}
