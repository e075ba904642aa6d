package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/audit"
	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/events"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/metrics"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

// Store is the persistence surface the auth service needs.
type Store interface {
	store.OrganizationStore
	store.UserStore
	store.AuthSessionStore
}

// Service implements registration, login, token verification and refresh
// rotation on top of server-side sessions.
type Service struct {
	store      Store
	audit      *audit.Recorder
	tokens     *TokenIssuer
	refreshTTL time.Duration
	logger     zerolog.Logger
}

// NewService creates the auth service.
func NewService(st Store, recorder *audit.Recorder, cfg config.AuthConfig) (*Service, error) {
	issuer, err := NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &Service{
		store:      st,
		audit:      recorder,
		tokens:     issuer,
		refreshTTL: refreshTTL,
		logger:     log.WithComponent("auth"),
	}, nil
}

// Register creates a user together with a personal organization and an
// owner membership, so every account is usable immediately.
func (s *Service) Register(ctx context.Context, email, password string) (*types.User, *types.Organization, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	if existing, err := s.store.GetUserByEmail(ctx, email); err == nil && existing != nil {
		return nil, nil, fmt.Errorf("email already registered: %w", errdefs.ErrConflict)
	} else if err != nil && !errdefs.IsNotFound(err) {
		return nil, nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	user := &types.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Active:       true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	org, err := s.createPersonalOrg(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		OrgID:      org.ID,
		UserID:     &user.ID,
		Action:     "user.registered",
		Resource:   "user",
		ResourceID: user.ID.String(),
		Detail:     "account registered",
	})
	s.logger.Info().Str("user_id", user.ID.String()).Str("org_id", org.ID.String()).Msg("User registered")
	return user, org, nil
}

// createPersonalOrg derives the slug from the email local part, suffixing
// on collision.
func (s *Service) createPersonalOrg(ctx context.Context, user *types.User) (*types.Organization, error) {
	base := Slugify(strings.SplitN(user.Email, "@", 2)[0])
	slug := base
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			slug = fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
		}
		if attempt > 3 {
			return nil, fmt.Errorf("failed to allocate organization slug for %s", base)
		}
		if _, err := s.store.GetOrganizationBySlug(ctx, slug); err == nil {
			continue
		} else if !errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("failed to check organization slug: %w", err)
		}
		break
	}

	org := &types.Organization{
		ID:   uuid.New(),
		Slug: slug,
		Name: base,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}
	member := &types.OrgMember{
		OrgID:  org.ID,
		UserID: user.ID,
		Role:   types.RoleOwner,
		Active: true,
	}
	if err := s.store.AddMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to create owner membership: %w", err)
	}
	return org, nil
}

// CreateOrganization creates an additional organization owned by userID.
// The new membership is not the user's active context; tokens keep the org
// they were issued for.
func (s *Service) CreateOrganization(ctx context.Context, userID uuid.UUID, name string) (*types.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("organization name is required: %w", errdefs.ErrBadRequest)
	}
	base := Slugify(name)
	slug := base
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			slug = fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
		}
		if attempt > 3 {
			return nil, fmt.Errorf("failed to allocate organization slug for %s", base)
		}
		if _, err := s.store.GetOrganizationBySlug(ctx, slug); err == nil {
			continue
		} else if !errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("failed to check organization slug: %w", err)
		}
		break
	}

	org := &types.Organization{
		ID:   uuid.New(),
		Slug: slug,
		Name: name,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}
	member := &types.OrgMember{
		OrgID:  org.ID,
		UserID: userID,
		Role:   types.RoleOwner,
	}
	if err := s.store.AddMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to create owner membership: %w", err)
	}
	return org, nil
}

// Authenticate verifies credentials and opens a new session. Failures are
// opaque to the caller; detail goes to the audit trail only.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*types.TokenPair, *types.User, error) {
	email = NormalizeEmail(email)

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil || user == nil {
		// Burn a compare anyway so response time does not reveal whether
		// the account exists.
		CheckPassword(dummyHash, password)
		metrics.AuthFailures.WithLabelValues("unknown_user").Inc()
		return nil, nil, errdefs.ErrUnauthenticated
	}

	if !CheckPassword(user.PasswordHash, password) {
		metrics.AuthFailures.WithLabelValues("bad_password").Inc()
		s.audit.Security(ctx, audit.Entry{
			OrgID:    uuid.Nil,
			UserID:   &user.ID,
			Action:   string(events.EventAuthDenied),
			Resource: "user",
			Detail:   "password mismatch",
		})
		return nil, nil, errdefs.ErrUnauthenticated
	}
	if !user.Active {
		metrics.AuthFailures.WithLabelValues("inactive_user").Inc()
		return nil, nil, errdefs.ErrUnauthenticated
	}

	member, err := s.store.ActiveMembership(ctx, user.ID)
	if err != nil || member == nil || !member.Active {
		metrics.AuthFailures.WithLabelValues("no_membership").Inc()
		return nil, nil, errdefs.ErrUnauthenticated
	}

	pair, _, err := s.openSession(ctx, user.ID, member.OrgID, member.Role)
	if err != nil {
		return nil, nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		OrgID:      member.OrgID,
		UserID:     &user.ID,
		Action:     string(events.EventAuthLogin),
		Resource:   "session",
		ResourceID: user.ID.String(),
		Detail:     "login",
	})
	return pair, user, nil
}

func (s *Service) openSession(ctx context.Context, userID, orgID uuid.UUID, role types.Role) (*types.TokenPair, *types.AuthSession, error) {
	refresh, refreshHash, err := NewRefreshToken()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	session := &types.AuthSession{
		ID:          uuid.New(),
		UserID:      userID,
		OrgID:       orgID,
		RefreshHash: refreshHash,
		State:       types.SessionStateActive,
		ExpiresAt:   now.Add(s.refreshTTL),
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	if err := s.store.CreateAuthSession(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	access, err := s.tokens.Issue(userID, orgID, session.ID, role)
	if err != nil {
		return nil, nil, err
	}

	metrics.SessionsOpened.Inc()
	return &types.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, session, nil
}

// Verify validates an access token and confirms its backing session is
// still active. Revoking a session invalidates outstanding access tokens
// immediately, not at their natural expiry.
func (s *Service) Verify(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		return nil, err
	}

	session, err := s.store.GetAuthSession(ctx, claims.SessionID)
	if err != nil || session == nil {
		return nil, errdefs.ErrUnauthenticated
	}
	if session.State != types.SessionStateActive {
		return nil, fmt.Errorf("session %s: %w", session.State, errdefs.ErrUnauthenticated)
	}
	if session.UserID != claims.UserID || session.OrgID != claims.OrgID {
		return nil, errdefs.ErrUnauthenticated
	}
	return claims, nil
}

// Refresh rotates a refresh token: the presented session ends in state
// refreshed, a fresh session takes over, and the two are chained through
// ReplacedBy. Presenting an already-rotated or revoked token is treated as
// theft: the entire chain is revoked and a critical audit entry written.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*types.TokenPair, error) {
	session, err := s.store.GetAuthSessionByRefreshHash(ctx, HashRefreshToken(refreshToken))
	if err != nil || session == nil {
		return nil, errdefs.ErrUnauthenticated
	}

	if session.State != types.SessionStateActive {
		revoked, rerr := s.store.RevokeSessionChain(ctx, session.ID)
		if rerr != nil {
			s.logger.Error().Err(rerr).Str("session_id", session.ID.String()).Msg("Failed to revoke session chain")
		}
		metrics.TokenReplays.Inc()
		s.audit.Record(ctx, audit.Entry{
			OrgID:    session.OrgID,
			UserID:   &session.UserID,
			Action:   string(events.EventAuthTokenReplay),
			Resource: "session",
			Detail:   fmt.Sprintf("rotated refresh token replayed; %d sessions revoked", revoked),
			Severity: types.AuditCritical,
		})
		s.logger.Warn().
			Str("user_id", session.UserID.String()).
			Int("revoked", revoked).
			Msg("Refresh token replay detected")
		return nil, errdefs.ErrUnauthenticated
	}

	now := time.Now()
	if now.After(session.ExpiresAt) {
		session.State = types.SessionStateExpired
		if err := s.store.UpdateAuthSession(ctx, session); err != nil {
			s.logger.Error().Err(err).Msg("Failed to expire session")
		}
		return nil, errdefs.ErrUnauthenticated
	}

	member, err := s.store.GetMember(ctx, session.OrgID, session.UserID)
	if err != nil || member == nil || !member.Active {
		return nil, errdefs.ErrUnauthenticated
	}

	pair, next, err := s.openSession(ctx, session.UserID, session.OrgID, member.Role)
	if err != nil {
		return nil, err
	}

	session.State = types.SessionStateRefreshed
	session.ReplacedBy = &next.ID
	session.LastUsedAt = now
	if err := s.store.UpdateAuthSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}
	return pair, nil
}

// Revoke ends a session (logout). Idempotent.
func (s *Service) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.store.GetAuthSession(ctx, sessionID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return err
	}
	if session.State == types.SessionStateRevoked {
		return nil
	}
	session.State = types.SessionStateRevoked
	if err := s.store.UpdateAuthSession(ctx, session); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// ExpireSessions transitions sessions past their refresh expiry. Run
// periodically by the maintenance worker.
func (s *Service) ExpireSessions(ctx context.Context) (int, error) {
	n, err := s.store.ExpireAuthSessions(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	if n > 0 {
		s.logger.Debug().Int("count", n).Msg("Expired auth sessions")
	}
	return n, nil
}

// Slugify converts text to a URL-safe slug: lowercase alphanumerics with
// single hyphens.
func Slugify(text string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "org"
	}
	return slug
}
