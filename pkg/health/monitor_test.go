package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/metrics"
)

// stubChecker flips between healthy and unhealthy under test control.
type stubChecker struct {
	mu      sync.Mutex
	healthy bool
	message string
	calls   int
}

func (s *stubChecker) Check(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return Result{
		Healthy:   s.healthy,
		Message:   s.message,
		CheckedAt: time.Now(),
	}
}

func (s *stubChecker) Type() CheckType { return CheckTypePing }

func (s *stubChecker) set(healthy bool, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
	s.message = message
}

func (s *stubChecker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// componentState looks a component up in the global health registry
// that /health serves from. Tests assert on their own component names
// only; the registry is shared across the package's tests.
func componentState(t *testing.T, name string) (string, bool) {
	t.Helper()
	state, ok := metrics.GetHealth().Components[name]
	return state, ok
}

func TestStatusRequiresConsecutiveFailures(t *testing.T) {
	status := NewStatus()
	cfg := Config{Retries: 3}

	fail := Result{Healthy: false, Message: "refused", CheckedAt: time.Now()}
	ok := Result{Healthy: true, CheckedAt: time.Now()}

	status.Update(fail, cfg)
	status.Update(fail, cfg)
	assert.True(t, status.Healthy, "two failures must not trip a threshold of three")
	assert.Equal(t, 2, status.ConsecutiveFailures)

	status.Update(fail, cfg)
	assert.False(t, status.Healthy)

	// A single success restores health and resets the failure count.
	status.Update(ok, cfg)
	assert.True(t, status.Healthy)
	assert.Equal(t, 0, status.ConsecutiveFailures)
	assert.Equal(t, 1, status.ConsecutiveSuccesses)
}

func TestMonitorPublishesComponentState(t *testing.T) {
	mon := NewMonitor()
	stub := &stubChecker{healthy: true}
	mon.Register("publish-probe", stub, Config{})

	mon.CheckNow(context.Background())

	state, ok := componentState(t, "publish-probe")
	require.True(t, ok, "component must appear after its first check")
	assert.Equal(t, "healthy", state)

	snap := mon.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "publish-probe", snap[0].Name)
	assert.Equal(t, CheckTypePing, snap[0].Type)
	assert.True(t, snap[0].Healthy)
	assert.False(t, snap[0].LastCheck.IsZero())
}

func TestMonitorFlapsOnlyAfterRetries(t *testing.T) {
	mon := NewMonitor()
	stub := &stubChecker{healthy: true}
	mon.Register("flap-probe", stub, Config{Retries: 3})

	ctx := context.Background()
	mon.CheckNow(ctx)

	stub.set(false, "connection reset")
	mon.CheckNow(ctx)
	mon.CheckNow(ctx)

	snap := mon.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Healthy, "two failures must not flip a threshold of three")
	assert.Equal(t, 2, snap[0].ConsecutiveFailures)
	state, _ := componentState(t, "flap-probe")
	assert.Equal(t, "healthy", state)

	mon.CheckNow(ctx)

	snap = mon.Snapshot()
	assert.False(t, snap[0].Healthy)
	assert.Contains(t, snap[0].Message, "connection reset")
	state, _ = componentState(t, "flap-probe")
	assert.Contains(t, state, "unhealthy")

	// Recovery is immediate.
	stub.set(true, "")
	mon.CheckNow(ctx)
	state, _ = componentState(t, "flap-probe")
	assert.Equal(t, "healthy", state)
}

func TestMonitorDefaultsZeroConfig(t *testing.T) {
	mon := NewMonitor()
	stub := &stubChecker{healthy: false}
	stub.message = "still booting"
	mon.Register("default-probe", stub, Config{})

	ctx := context.Background()
	mon.CheckNow(ctx)
	mon.CheckNow(ctx)

	// Default retry threshold is three: two failures leave it healthy.
	snap := mon.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Healthy)

	mon.CheckNow(ctx)
	assert.False(t, mon.Snapshot()[0].Healthy)
}

func TestMonitorStartPeriodSuppressesChecks(t *testing.T) {
	mon := NewMonitor()
	stub := &stubChecker{healthy: false}
	mon.Register("warming-probe", stub, Config{StartPeriod: time.Hour})

	mon.CheckNow(context.Background())

	assert.Zero(t, stub.count(), "checks must not run inside the start period")

	snap := mon.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Healthy)
	assert.True(t, snap[0].LastCheck.IsZero())

	// Nothing published yet, so readiness can report it as waiting.
	_, ok := componentState(t, "warming-probe")
	assert.False(t, ok)
}

func TestMonitorStartStop(t *testing.T) {
	mon := NewMonitor()
	stub := &stubChecker{healthy: true}
	mon.Register("loop-probe", stub, Config{Interval: 20 * time.Millisecond})

	mon.Start()
	require.Eventually(t, func() bool {
		return stub.count() >= 3
	}, 2*time.Second, 10*time.Millisecond, "check loop must keep firing")
	mon.Stop()

	settled := stub.count()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, stub.count(), "no checks may run after Stop returns")
}

func TestMonitorStopWithoutStart(t *testing.T) {
	mon := NewMonitor()
	mon.Register("idle-probe", &stubChecker{}, Config{})
	mon.Stop()
}

func TestMonitorSnapshotSorted(t *testing.T) {
	mon := NewMonitor()
	for _, name := range []string{"redis-sorted", "database-sorted", "llm-sorted"} {
		mon.Register(name, &stubChecker{healthy: true}, Config{})
	}

	snap := mon.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "database-sorted", snap[0].Name)
	assert.Equal(t, "llm-sorted", snap[1].Name)
	assert.Equal(t, "redis-sorted", snap[2].Name)
}

func TestRegisterPingerShorthand(t *testing.T) {
	mon := NewMonitor()
	mon.RegisterPinger("pinger-probe", PingerFunc(func(ctx context.Context) error {
		return context.DeadlineExceeded
	}))

	mon.CheckNow(context.Background())

	snap := mon.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, CheckTypePing, snap[0].Type)
	assert.Contains(t, snap[0].Message, "ping failed")
}

func TestWaitHealthy(t *testing.T) {
	t.Run("returns once healthy", func(t *testing.T) {
		var calls int
		checker := NewPingChecker(PingerFunc(func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return context.DeadlineExceeded
			}
			return nil
		}))

		err := WaitHealthy(context.Background(), checker, 5*time.Millisecond)

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up with the context", func(t *testing.T) {
		checker := NewPingChecker(PingerFunc(func(ctx context.Context) error {
			return context.DeadlineExceeded
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
		defer cancel()

		err := WaitHealthy(ctx, checker, 5*time.Millisecond)

		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "gave up waiting")
	})
}
