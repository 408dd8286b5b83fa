package active911

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTokenURL is Active911's refresh-token exchange endpoint.
const DefaultTokenURL = "https://console.active911.com/interface/dev/api_access.php"

const (
	// expiryBuffer is the margin before actual expiry within which a token
	// is proactively treated as expired, so a token never dies mid-request.
	expiryBuffer = 5 * time.Minute

	tokenRequestTimeout = 10 * time.Second
)

// ErrNotConfigured signals that no refresh token is configured (missing or
// the shipped placeholder). Terminal until the credential file changes.
var ErrNotConfigured = errors.New("active911: refresh token not configured")

// ErrNoCredential signals that a refresh was needed and failed; no usable
// access token is available for this call.
var ErrNoCredential = errors.New("active911: no valid access token available")

// TokenSource yields valid access tokens, refreshing and persisting them as
// needed. It is the only writer of the credential store.
type TokenSource struct {
	store       *CredentialStore
	staticToken string
	tokenURL    string
	httpClient  *http.Client
	now         func() time.Time
}

// TokenOption is a functional option for configuring a TokenSource.
type TokenOption func(*TokenSource)

// WithStaticToken makes GetValidToken return token unconditionally,
// bypassing the refresh lifecycle. Used for the ACTIVE911_TOKEN override.
func WithStaticToken(token string) TokenOption {
	return func(ts *TokenSource) { ts.staticToken = token }
}

// WithTokenURL overrides the refresh endpoint. Intended for tests.
func WithTokenURL(u string) TokenOption {
	return func(ts *TokenSource) { ts.tokenURL = u }
}

// WithTokenHTTPClient replaces the default HTTP client. Intended for tests.
func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(ts *TokenSource) { ts.httpClient = c }
}

// WithClock overrides the time source used for expiry checks. Intended for
// tests.
func WithClock(now func() time.Time) TokenOption {
	return func(ts *TokenSource) { ts.now = now }
}

// NewTokenSource creates a TokenSource over the given credential store.
func NewTokenSource(store *CredentialStore, opts ...TokenOption) *TokenSource {
	ts := &TokenSource{
		store:      store,
		tokenURL:   DefaultTokenURL,
		httpClient: &http.Client{Timeout: tokenRequestTimeout},
		now:        time.Now,
	}
	for _, o := range opts {
		o(ts)
	}
	return ts
}

// GetValidToken returns an access token that is valid for at least the
// expiry buffer. A static override token is returned unconditionally. When
// the persisted token is expired, unparseable, or absent, the refresh token
// is exchanged for a new one, which is persisted before being returned.
func (ts *TokenSource) GetValidToken(ctx context.Context) (string, error) {
	if ts.staticToken != "" {
		return ts.staticToken, nil
	}

	cred, err := ts.store.Load()
	if err != nil {
		// A corrupt store reads as no stored credential; the refresh path
		// below will rebuild it if a refresh token is configured elsewhere.
		slog.Error("active911: credential store unreadable", "error", err)
	}

	if !cred.Configured() {
		return "", ErrNotConfigured
	}

	if cred.AccessToken != "" && ts.isValid(cred.TokenExpiration) {
		return cred.AccessToken, nil
	}

	slog.Info("active911: access token expired or missing, refreshing")
	token, expiration, err := ts.refresh(ctx, cred.RefreshToken)
	if err != nil {
		slog.Error("active911: token refresh failed", "error", err)
		return "", fmt.Errorf("%w: %w", ErrNoCredential, err)
	}

	// Persist before use so a crash after refresh never costs a redundant
	// refresh on restart. A failed write is not fatal for this call.
	cred.AccessToken = token
	cred.TokenExpiration = expiration
	if err := ts.store.Save(cred); err != nil {
		slog.Error("active911: could not persist refreshed token", "error", err)
	} else {
		slog.Info("active911: access token refreshed and saved")
	}
	return token, nil
}

// isValid reports whether the stored expiration is more than the buffer in
// the future. An unparseable expiration reads as expired — refreshing is the
// fail-safe direction when the stored value is corrupt.
func (ts *TokenSource) isValid(expiration RawScalar) bool {
	exp, ok := parseExpiration(string(expiration))
	if !ok {
		if expiration != "" {
			slog.Warn("active911: unrecognised expiration format", "value", string(expiration))
		}
		return false
	}
	return ts.now().Before(exp.Add(-expiryBuffer))
}

// parseExpiration accepts epoch seconds (possibly fractional) or an
// ISO-8601 timestamp, with or without a zone.
func parseExpiration(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.Local); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// refresh exchanges the refresh token for a new access token. Returns the
// token and the raw expiration value as reported upstream.
func (ts *TokenSource) refresh(ctx context.Context, refreshToken string) (string, RawScalar, error) {
	form := url.Values{"refresh_token": {refreshToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("token endpoint returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read token response: %w", err)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		Expiration  any    `json:"expiration"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", "", fmt.Errorf("parse token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", "", fmt.Errorf("unexpected token response: %s", data)
	}
	return payload.AccessToken, RawScalar(scalarString(payload.Expiration)), nil
}
