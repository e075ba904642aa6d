// Package health monitors Tome's dependencies and decides when the
// service is ready to take traffic.
//
// # Overview
//
// Every dependency gets a Checker; the Monitor runs each one on its own
// interval and folds results into a Status state machine:
//
//	┌──────────────────────────────────────────────┐
//	│                   Monitor                    │
//	│  one check loop per registered dependency    │
//	└──────┬───────────┬───────────┬───────────────┘
//	       ▼           ▼           ▼
//	   ┌───────┐   ┌───────┐   ┌───────┐
//	   │ Ping  │   │ HTTP  │   │  TCP  │
//	   └───┬───┘   └───┬───┘   └───┬───┘
//	       │           │           │
//	    postgres    LLM and     socket wait
//	    redis       embedding   during startup
//	    objectstore endpoints
//	       │           │
//	       └─────┬─────┘
//	             ▼
//	     pkg/metrics components ──▶ /health, /ready
//
// Ping checks go through the dependency's own client (pgxpool.Ping,
// redis PING, a bucket existence probe), so they exercise the same
// pool and credentials real traffic uses. HTTP checks cover the model
// endpoints Tome only speaks HTTP to. TCP checks verify a socket
// accepts connections; WaitHealthy polls one to hold migrations until
// the database is up.
//
// # Failure semantics
//
// A single success marks a dependency healthy; it takes Retries
// consecutive failures to mark it unhealthy, so one dropped packet or
// slow response never flips readiness. StartPeriod suppresses checks
// for dependencies that accept connections late. State transitions are
// logged once at the edge (Warn going down, Info recovering), not on
// every failing tick.
//
// The monitor publishes to pkg/metrics: component state for the
// /health and /ready handlers, and the tome_dependency_up gauge for
// alerting. Readiness gates on the critical set (database, cache,
// object store, index); the LLM endpoint being down degrades answers
// but does not stop ingestion, so it is reported without gating.
//
// # Integration Points
//
//   - pkg/store, pkg/cache, pkg/blob: probed through their Ping methods
//   - pkg/metrics: component registry behind /health and /ready
//   - cmd/tome: registers the dependency set and starts the monitor
package health
