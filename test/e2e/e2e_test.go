// Package e2e drives a complete in-process deployment through the public
// API. Everything runs against the in-memory store by default; set
// TOME_E2E_DATABASE_URL to run the same suite against a disposable
// Postgres instance.
package e2e

import (
	"context"
	"testing"

	"github.com/tomehq/tome/test/framework"
)

// startEnv builds and starts one environment per test and signs up an
// owner with a fresh personal organization.
func startEnv(t *testing.T) (*framework.Env, *framework.Client) {
	t.Helper()

	env, err := framework.NewEnv(framework.DefaultEnvConfig())
	if err != nil {
		t.Fatalf("Failed to build environment: %v", err)
	}
	if err := env.Start(); err != nil {
		t.Fatalf("Failed to start environment: %v", err)
	}
	t.Cleanup(env.Stop)

	owner, err := env.Signup(context.Background(), framework.UniqueEmail("owner"), "sturdy-passphrase")
	if err != nil {
		t.Fatalf("Failed to sign up owner: %v", err)
	}
	return env, owner
}
