package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomehq/tome/pkg/errdefs"
)

// Credentials is a saved CLI login: where to connect and the token pair
// from the last login or refresh.
type Credentials struct {
	BaseURL      string `json:"base_url"`
	Email        string `json:"email,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// CredentialsPath returns the CLI's credentials file, ~/.tome/credentials.json.
func CredentialsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".tome", "credentials.json"), nil
}

// LoadCredentials reads the saved login. A missing file reads as
// unauthenticated, not as an I/O failure.
func LoadCredentials() (*Credentials, error) {
	path, err := CredentialsPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("not logged in (no %s): %w", path, errdefs.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if creds.BaseURL == "" || creds.AccessToken == "" {
		return nil, fmt.Errorf("credentials file %s is incomplete: %w", path, errdefs.ErrUnauthenticated)
	}
	return &creds, nil
}

// SaveCredentials writes the login with owner-only permissions.
func SaveCredentials(creds *Credentials) error {
	path, err := CredentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// ClearCredentials removes the saved login. Clearing an absent file is
// not an error.
func ClearCredentials() error {
	path, err := CredentialsPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

// Connect builds a client from saved credentials.
func Connect() (*Client, *Credentials, error) {
	creds, err := LoadCredentials()
	if err != nil {
		return nil, nil, err
	}
	c, err := New(creds.BaseURL)
	if err != nil {
		return nil, nil, err
	}
	c.SetTokens(creds.AccessToken, creds.RefreshToken)
	return c, creds, nil
}
