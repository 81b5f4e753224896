package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"
)

// ParsePrivateKey parses PEM-encoded RSA private key material, as downloaded
// from the app settings page or stored in a parameter store.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing RSA private key: %w", err)
	}
	return key, nil
}

// expirySlack is how long before the reported expiry a cached installation
// token is considered stale. Tokens live ~1 hour; refreshing a minute early
// avoids racing the deadline with an in-flight request.
const expirySlack = time.Minute

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// installationToken returns an installation access token for the repository,
// minting one if the cache has no fresh entry. The cache mutex is held across
// minting so concurrent callers for the same repository cannot create
// duplicate tokens.
func (c *Client) installationToken(ctx context.Context, owner, repo string) (string, error) {
	key := owner + "/" + repo

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if entry, ok := c.tokens[key]; ok && c.now().Before(entry.expiresAt.Add(-expirySlack)) {
		return entry.token, nil
	}

	token, expiresAt, err := c.mintInstallationToken(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("minting installation token for %s: %w", key, err)
	}
	c.tokens[key] = cachedToken{token: token, expiresAt: expiresAt}
	c.log.V(1).Info("minted installation token", "repository", key, "expiresAt", expiresAt)

	return token, nil
}

// invalidateToken drops the cached token for the repository so the next call
// mints a fresh one. Used when the provider rejects a token before its
// reported expiry.
func (c *Client) invalidateToken(owner, repo string) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	delete(c.tokens, owner+"/"+repo)
}

// appJWT signs a short-lived app assertion. Issued-at is backdated 60 seconds
// to absorb clock drift between us and the provider.
func (c *Client) appJWT() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    c.appID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing app JWT: %w", err)
	}
	return signed, nil
}

// mintInstallationToken looks up the installation for the repository and
// exchanges the app JWT for an installation access token. Transient failures
// are retried briefly; the engine drops the tick on anything that survives.
func (c *Client) mintInstallationToken(ctx context.Context, owner, repo string) (string, time.Time, error) {
	appToken, err := c.appJWT()
	if err != nil {
		return "", time.Time{}, err
	}

	type result struct {
		token     string
		expiresAt time.Time
	}
	operation := func() (result, error) {
		installation := struct {
			ID int64 `json:"id"`
		}{}
		if err := c.getJSON(ctx, appToken, fmt.Sprintf("/repos/%s/%s/installation", owner, repo), http.StatusOK, &installation); err != nil {
			return result{}, retryable(err)
		}

		accessToken := struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expires_at"`
		}{}
		url := fmt.Sprintf("/app/installations/%d/access_tokens", installation.ID)
		if err := c.postJSON(ctx, appToken, url, nil, http.StatusCreated, &accessToken); err != nil {
			return result{}, retryable(err)
		}
		return result{token: accessToken.Token, expiresAt: accessToken.ExpiresAt}, nil
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
	if err != nil {
		return "", time.Time{}, err
	}
	return res.token, res.expiresAt, nil
}

// retryable marks only transient errors as worth retrying inside a tick.
func retryable(err error) error {
	if isTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

// getJSON performs an authenticated GET and decodes the response body.
func (c *Client) getJSON(ctx context.Context, token, path string, wantStatus int, out any) error {
	return c.roundTrip(ctx, http.MethodGet, token, path, nil, wantStatus, out)
}

// postJSON performs an authenticated POST with an optional JSON body and
// decodes the response body when out is non-nil.
func (c *Client) postJSON(ctx context.Context, token, path string, body any, wantStatus int, out any) error {
	return c.roundTrip(ctx, http.MethodPost, token, path, body, wantStatus, out)
}

func (c *Client) roundTrip(ctx context.Context, method, token, path string, body any, wantStatus int, out any) error {
	req, err := c.newRequest(ctx, method, token, path, body)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransient, method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != wantStatus {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		return &wrongStatusError{op: method + " " + path, code: res.StatusCode, body: detail}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s %s response: %w", ErrProtocol, method, path, err)
	}
	return nil
}
