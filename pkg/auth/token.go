package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/types"
)

// Claims is the verified identity attached to every authenticated request.
// Permissions are snapshotted at issue time; a role change takes effect when
// the access token is next refreshed.
type Claims struct {
	UserID      uuid.UUID   `json:"uid"`
	OrgID       uuid.UUID   `json:"org"`
	SessionID   uuid.UUID   `json:"sid"`
	Role        types.Role  `json:"role"`
	Permissions []Permission `json:"perms"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies access tokens.
type TokenIssuer struct {
	secret    []byte
	accessTTL time.Duration
}

// NewTokenIssuer creates an issuer. The secret must be non-empty; it is the
// HMAC key for every access token.
func NewTokenIssuer(secret string, accessTTL time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret must not be empty")
	}
	if accessTTL <= 0 {
		accessTTL = 20 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), accessTTL: accessTTL}, nil
}

// AccessTTL returns the configured access token lifetime.
func (ti *TokenIssuer) AccessTTL() time.Duration { return ti.accessTTL }

// Issue signs an access token for the session.
func (ti *TokenIssuer) Issue(userID, orgID, sessionID uuid.UUID, role types.Role) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      userID,
		OrgID:       orgID,
		SessionID:   sessionID,
		Role:        role,
		Permissions: PermissionsForRole(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        sessionID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.accessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Parse validates the signature and expiry and returns the claims. Any
// failure maps to ErrUnauthenticated; callers must not leak parser detail
// to clients.
func (ti *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", errdefs.ErrUnauthenticated)
	}
	if claims.UserID == uuid.Nil || claims.SessionID == uuid.Nil {
		return nil, fmt.Errorf("access token missing identity: %w", errdefs.ErrUnauthenticated)
	}
	return claims, nil
}

// NewRefreshToken generates a 256-bit random refresh token and the hash
// stored server-side. Only the hash ever touches the database.
func NewRefreshToken() (token string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	token = hex.EncodeToString(buf)
	return token, HashRefreshToken(token), nil
}

// HashRefreshToken returns the storable digest of a refresh token.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
