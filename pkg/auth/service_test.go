package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/audit"
	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc, err := NewService(mem, audit.New(mem, nil), config.AuthConfig{
		JWTSecret:       "test-secret-for-unit-tests",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	require.NoError(t, err)
	return svc, mem
}

func TestRegisterCreatesPersonalOrg(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	user, org, err := svc.Register(ctx, "Casey.Reed@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "casey.reed@example.com", user.Email, "email is normalized")
	assert.Equal(t, "casey-reed", org.Slug)
	assert.True(t, user.Active)

	member, err := mem.GetMember(ctx, org.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RoleOwner, member.Role)
	assert.True(t, member.Active)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "dup@example.com", "password-1")
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, "DUP@example.com", "password-2")
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), "a@example.com", "short")
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrBadRequest)
}

func TestAuthenticateAndVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, org, err := svc.Register(ctx, "login@example.com", "password-1")
	require.NoError(t, err)

	pair, gotUser, err := svc.Authenticate(ctx, "login@example.com", "password-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, gotUser.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(60), pair.ExpiresIn)

	claims, err := svc.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, org.ID, claims.OrgID)
	assert.Equal(t, types.RoleOwner, claims.Role)
	assert.True(t, claims.Has(PermOrgAdmin))
}

func TestAuthenticateFailuresAreOpaque(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "opaque@example.com", "password-1")
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"unknown user", "nobody@example.com", "password-1"},
		{"wrong password", "opaque@example.com", "password-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Authenticate(ctx, tt.email, tt.password)
			require.Error(t, err)
			// Identical sentinel for both: callers cannot probe accounts.
			assert.ErrorIs(t, err, errdefs.ErrUnauthenticated)
		})
	}
}

func TestVerifyRejectsRevokedSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "revoke@example.com", "password-1")
	require.NoError(t, err)
	pair, _, err := svc.Authenticate(ctx, "revoke@example.com", "password-1")
	require.NoError(t, err)

	claims, err := svc.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, claims.SessionID))

	_, err = svc.Verify(ctx, pair.AccessToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrUnauthenticated)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "tamper@example.com", "password-1")
	require.NoError(t, err)
	pair, _, err := svc.Authenticate(ctx, "tamper@example.com", "password-1")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, pair.AccessToken+"x")
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrUnauthenticated)
}

func TestRefreshRotation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "rotate@example.com", "password-1")
	require.NoError(t, err)
	first, _, err := svc.Authenticate(ctx, "rotate@example.com", "password-1")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	// The rotated pair works.
	_, err = svc.Verify(ctx, second.AccessToken)
	require.NoError(t, err)
}

func TestRefreshReplayRevokesChain(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	_, org, err := svc.Register(ctx, "replay@example.com", "password-1")
	require.NoError(t, err)
	first, _, err := svc.Authenticate(ctx, "replay@example.com", "password-1")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	third, err := svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)

	// Replaying the first (already rotated) token is treated as theft.
	_, err = svc.Refresh(ctx, first.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrUnauthenticated)

	// Every descendant dies with it, including the live third session.
	_, err = svc.Verify(ctx, third.AccessToken)
	require.Error(t, err)
	_, err = svc.Refresh(ctx, third.RefreshToken)
	require.Error(t, err)

	// A critical audit entry documents the replay.
	entries, err := mem.ListAuditEvents(ctx, org.ID, 50, 0)
	require.NoError(t, err)
	var replayLogged bool
	for _, e := range entries {
		if e.Action == "auth.token_replay" && e.Severity == types.AuditCritical {
			replayLogged = true
		}
	}
	assert.True(t, replayLogged, "token replay must produce a critical audit entry")
}

func TestRefreshExpiredSession(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "expired@example.com", "password-1")
	require.NoError(t, err)
	pair, _, err := svc.Authenticate(ctx, "expired@example.com", "password-1")
	require.NoError(t, err)

	session, err := mem.GetAuthSessionByRefreshHash(ctx, HashRefreshToken(pair.RefreshToken))
	require.NoError(t, err)
	session.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, mem.UpdateAuthSession(ctx, session))

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrUnauthenticated)
}

func TestExpireSessions(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "sweep@example.com", "password-1")
	require.NoError(t, err)
	pair, _, err := svc.Authenticate(ctx, "sweep@example.com", "password-1")
	require.NoError(t, err)

	session, err := mem.GetAuthSessionByRefreshHash(ctx, HashRefreshToken(pair.RefreshToken))
	require.NoError(t, err)
	session.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, mem.UpdateAuthSession(ctx, session))

	n, err := svc.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"casey.reed", "casey-reed"},
		{"Hello World", "hello-world"},
		{"a--b", "a-b"},
		{"--x--", "x"},
		{"ümlaut", "mlaut"},
		{"", "org"},
		{"!!!", "org"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), "slugify(%q)", tt.in)
	}
}
