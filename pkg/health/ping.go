package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger is the probe surface shared by Tome's stateful dependencies.
// store.Postgres, cache.Cache, and blob.Store all satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

// Ping calls f(ctx).
func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// PingChecker performs health checks through a dependency's own Ping
// method, so the check exercises the same client, pool, and credentials
// the service uses for real traffic.
type PingChecker struct {
	// Target is the dependency to probe
	Target Pinger

	// Timeout is the ping timeout (default: 5 seconds)
	Timeout time.Duration
}

// NewPingChecker creates a new ping health checker
func NewPingChecker(target Pinger) *PingChecker {
	return &PingChecker{
		Target:  target,
		Timeout: 5 * time.Second,
	}
}

// Check performs the ping health check
func (p *PingChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if p.Target == nil {
		return Result{
			Healthy:   false,
			Message:   "no ping target configured",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	if err := p.Target.Ping(pingCtx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("ping failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "ping successful",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (p *PingChecker) Type() CheckType {
	return CheckTypePing
}

// WithTimeout sets the ping timeout
func (p *PingChecker) WithTimeout(timeout time.Duration) *PingChecker {
	p.Timeout = timeout
	return p
}
