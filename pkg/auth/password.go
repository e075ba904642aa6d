package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/tomehq/tome/pkg/errdefs"
)

const minPasswordLength = 8

// dummyHash keeps the bcrypt compare cost roughly constant when the email
// does not resolve to a user, so login timing does not leak account
// existence. Hash of an unguessable random string.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMye1J9JZK7mGTBVg4sQXEJZ5eZLeoXEp2m"

// HashPassword hashes a plaintext password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether the password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword enforces the password policy.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters: %w", minPasswordLength, errdefs.ErrBadRequest)
	}
	if strings.TrimSpace(password) != password {
		return fmt.Errorf("password must not start or end with whitespace: %w", errdefs.ErrBadRequest)
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address. All lookups and
// uniqueness checks operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail performs a minimal structural check. Deliverability is the
// caller's problem; this only rejects obvious garbage.
func ValidateEmail(email string) error {
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 || !strings.Contains(email[at+1:], ".") {
		return fmt.Errorf("invalid email address: %w", errdefs.ErrBadRequest)
	}
	return nil
}
