package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/metrics"
)

// registered is one dependency under observation
type registered struct {
	name    string
	checker Checker
	config  Config
	status  *Status
}

// Monitor runs periodic health checks against Tome's dependencies and
// publishes the results to pkg/metrics, where /health and /ready read
// them. Each check runs on its own interval, so a slow LLM endpoint
// probe never delays the database check.
type Monitor struct {
	mu     sync.Mutex
	checks map[string]*registered
	logger zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates an empty monitor. Register the dependency checks,
// then Start it.
func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]*registered),
		logger: log.WithComponent("health"),
	}
}

// Register adds a named dependency check. Zero Config fields fall back
// to DefaultConfig. Until the first check completes the component is
// unknown to pkg/metrics, so readiness keeps reporting it as not
// registered; that is what holds traffic off a booting instance.
func (m *Monitor) Register(name string, checker Checker, config Config) {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = defaults.Retries
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = &registered{
		name:    name,
		checker: checker,
		config:  config,
		status:  NewStatus(),
	}
}

// RegisterPinger registers a Ping-based check with default settings
func (m *Monitor) RegisterPinger(name string, target Pinger) {
	m.Register(name, NewPingChecker(target), DefaultConfig())
}

// Start launches one background check loop per registered dependency
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	checks := m.sorted()
	for _, c := range checks {
		m.wg.Add(1)
		go m.checkLoop(ctx, c)
	}

	m.logger.Info().Int("checks", len(checks)).Msg("Health monitor started")
}

// Stop halts the check loops and waits for them to exit
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Info().Msg("Health monitor stopped")
}

// CheckNow runs every registered check once, synchronously. Startup
// calls it before the HTTP server listens so the first readiness probe
// already reflects real dependency state.
func (m *Monitor) CheckNow(ctx context.Context) {
	for _, c := range m.sorted() {
		m.runCheck(ctx, c)
	}
}

// checkLoop runs one dependency's checks at its configured interval
func (m *Monitor) checkLoop(ctx context.Context, c *registered) {
	defer m.wg.Done()

	m.runCheck(ctx, c)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCheck(ctx, c)
		}
	}
}

// runCheck performs a single check and publishes the outcome
func (m *Monitor) runCheck(ctx context.Context, c *registered) {
	m.mu.Lock()
	inStart := c.status.InStartPeriod(c.config)
	m.mu.Unlock()
	if inStart {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	result := c.checker.Check(checkCtx)
	cancel()

	m.mu.Lock()
	wasHealthy := c.status.Healthy
	c.status.Update(result, c.config)
	healthy := c.status.Healthy
	failures := c.status.ConsecutiveFailures
	m.mu.Unlock()

	metrics.UpdateComponent(c.name, healthy, result.Message)
	up := 0.0
	if healthy {
		up = 1
	}
	metrics.DependencyUp.WithLabelValues(c.name).Set(up)

	switch {
	case wasHealthy && !healthy:
		m.logger.Warn().
			Str("component", c.name).
			Str("reason", result.Message).
			Msg("Dependency became unhealthy")
	case !wasHealthy && healthy:
		m.logger.Info().
			Str("component", c.name).
			Msg("Dependency recovered")
	case !result.Healthy:
		m.logger.Debug().
			Str("component", c.name).
			Int("failures", failures).
			Str("reason", result.Message).
			Msg("Health check failed")
	}
}

// CheckState is a point-in-time view of one registered check
type CheckState struct {
	Name                string
	Type                CheckType
	Healthy             bool
	Message             string
	LastCheck           time.Time
	Duration            time.Duration
	ConsecutiveFailures int
}

// Snapshot reports the current state of every registered check, sorted
// by name. A zero LastCheck means the check has not run yet.
func (m *Monitor) Snapshot() []CheckState {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]CheckState, 0, len(m.checks))
	for _, c := range m.checks {
		states = append(states, CheckState{
			Name:                c.name,
			Type:                c.checker.Type(),
			Healthy:             c.status.Healthy,
			Message:             c.status.LastResult.Message,
			LastCheck:           c.status.LastCheck,
			Duration:            c.status.LastResult.Duration,
			ConsecutiveFailures: c.status.ConsecutiveFailures,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// sorted returns the registered checks in name order
func (m *Monitor) sorted() []*registered {
	m.mu.Lock()
	defer m.mu.Unlock()

	checks := make([]*registered, 0, len(m.checks))
	for _, c := range m.checks {
		checks = append(checks, c)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })
	return checks
}
