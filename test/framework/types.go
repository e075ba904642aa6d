package framework

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// EnvConfig defines the configuration for a test environment
type EnvConfig struct {
	// DatabaseURL switches the environment onto a real Postgres instance.
	// Empty runs everything against the in-memory store. Tests must treat
	// the database as disposable; nothing is cleaned up between runs.
	DatabaseURL string
	// Dimension is the embedding dimension of the stub embedder and the index
	Dimension int
	// Workers is the background pool size
	Workers int
	// ChatReply is the stub model's initial scripted answer
	ChatReply string
	// ScrapeDelay is the per-host politeness delay for crawl tests
	ScrapeDelay time.Duration
	// LogLevel sets the logging level for the environment's components
	LogLevel string
}

// DefaultEnvConfig returns a configuration suitable for most tests. The
// database is taken from TOME_E2E_DATABASE_URL so the same suite runs
// in-memory by default and against Postgres when one is provided.
func DefaultEnvConfig() *EnvConfig {
	return &EnvConfig{
		DatabaseURL: os.Getenv("TOME_E2E_DATABASE_URL"),
		Dimension:   8,
		Workers:     2,
		ChatReply:   "The knowledge base covers this [1].",
		ScrapeDelay: time.Millisecond,
		LogLevel:    "warn",
	}
}

// TestingT is an interface matching testing.T
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Helper()
}

// UniqueEmail returns an address that no previous run can have registered,
// so suites stay re-runnable against a persistent database.
func UniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%s@e2e.test", prefix, uuid.NewString()[:8])
}
