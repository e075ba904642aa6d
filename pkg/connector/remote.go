package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tomehq/tome/pkg/errdefs"
)

const (
	remoteMaxTries   = 3
	remoteMaxElapsed = 60 * time.Second
	maxRemoteBody    = 8 << 20 // 8 MiB per response
)

// apiClient is the JSON client the external-API variants share. Transient
// failures (transport errors, 429, 5xx) are retried with exponential
// backoff; 4xx responses are terminal. Credential and addressing
// rejections come back as input errors the operator can fix, everything
// else as a remote-system failure.
type apiClient struct {
	http *http.Client
	auth func(*http.Request)
}

// getJSON fetches rawURL and decodes the response body into out.
func (c *apiClient) getJSON(ctx context.Context, rawURL string, out any) error {
	body, err := c.get(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errdefs.Remote(fmt.Errorf("failed to decode response from %s: %v", rawURL, err), false)
	}
	return nil
}

// get fetches rawURL with retry and returns the raw body.
func (c *apiClient) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("invalid request url %q: %v: %w", rawURL, err, errdefs.ErrBadRequest))
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		if c.auth != nil {
			c.auth(req)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("remote returned %d", resp.StatusCode)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, backoff.Permanent(fmt.Errorf("remote rejected the credentials (status %d): %w", resp.StatusCode, errdefs.ErrBadRequest))
		case resp.StatusCode == http.StatusNotFound:
			return nil, backoff.Permanent(fmt.Errorf("remote returned 404 for %s; check the configured url and names: %w", rawURL, errdefs.ErrBadRequest))
		default:
			return nil, backoff.Permanent(fmt.Errorf("remote returned %d: %w", resp.StatusCode, errdefs.ErrBadRequest))
		}
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(remoteMaxTries),
		backoff.WithMaxElapsedTime(remoteMaxElapsed),
	)
	if err != nil {
		if errors.Is(err, errdefs.ErrBadRequest) || ctx.Err() != nil {
			return nil, err
		}
		return nil, errdefs.Remote(err, true)
	}
	return body, nil
}
