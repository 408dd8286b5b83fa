package active911

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// fixedNow is the reference instant for expiry tests.
var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func clock() func() time.Time {
	return func() time.Time { return fixedNow }
}

func newStore(t *testing.T, cred Credential) *CredentialStore {
	t.Helper()
	s := NewCredentialStore(filepath.Join(t.TempDir(), "creds.yaml"))
	if cred != (Credential{}) {
		if err := s.Save(cred); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestGetValidToken_StaticOverride(t *testing.T) {
	t.Parallel()

	// The static token wins even over a configured store.
	store := newStore(t, Credential{RefreshToken: "refresh"})
	ts := NewTokenSource(store, WithStaticToken("static-token"), WithClock(clock()))

	token, err := ts.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken() error: %v", err)
	}
	if token != "static-token" {
		t.Errorf("token = %q, want static-token", token)
	}
}

func TestGetValidToken_NotConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cred Credential
	}{
		{"missing file", Credential{}},
		{"placeholder token", Credential{RefreshToken: PlaceholderRefreshToken}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ts := NewTokenSource(newStore(t, tc.cred), WithClock(clock()))
			_, err := ts.GetValidToken(context.Background())
			if !errors.Is(err, ErrNotConfigured) {
				t.Errorf("GetValidToken() = %v, want ErrNotConfigured", err)
			}
		})
	}
}

func TestGetValidToken_StoredTokenStillValid(t *testing.T) {
	t.Parallel()

	// Expires one hour past the reference instant — outside the buffer, so
	// no refresh request may be made.
	exp := fixedNow.Add(time.Hour).Unix()
	store := newStore(t, Credential{
		RefreshToken:    "refresh",
		AccessToken:     "stored-token",
		TokenExpiration: RawScalar(strconv.FormatInt(exp, 10)),
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("unexpected refresh request for a valid token")
	}))
	defer srv.Close()

	ts := NewTokenSource(store, WithTokenURL(srv.URL), WithClock(clock()))
	token, err := ts.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken() error: %v", err)
	}
	if token != "stored-token" {
		t.Errorf("token = %q, want stored-token", token)
	}
}

func TestGetValidToken_RefreshesWithinBuffer(t *testing.T) {
	t.Parallel()

	// Expires in two minutes: inside the five-minute buffer, treated as
	// expired even though it is technically still live.
	exp := fixedNow.Add(2 * time.Minute).Unix()
	store := newStore(t, Credential{
		RefreshToken:    "refresh-abc",
		AccessToken:     "dying-token",
		TokenExpiration: RawScalar(strconv.FormatInt(exp, 10)),
	})

	newExp := fixedNow.Add(24 * time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("refresh_token"); got != "refresh-abc" {
			t.Errorf("refresh_token = %q, want refresh-abc", got)
		}
		fmt.Fprintf(w, `{"access_token":"fresh-token","expiration":%d}`, newExp)
	}))
	defer srv.Close()

	ts := NewTokenSource(store, WithTokenURL(srv.URL), WithClock(clock()))
	token, err := ts.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken() error: %v", err)
	}
	if token != "fresh-token" {
		t.Errorf("token = %q, want fresh-token", token)
	}

	// The refreshed token must be persisted.
	cred, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cred.AccessToken != "fresh-token" {
		t.Errorf("persisted access_token = %q, want fresh-token", cred.AccessToken)
	}
	if cred.TokenExpiration != RawScalar(strconv.FormatInt(newExp, 10)) {
		t.Errorf("persisted token_expiration = %q, want %d", cred.TokenExpiration, newExp)
	}
	if cred.RefreshToken != "refresh-abc" {
		t.Errorf("persisted refresh_token = %q, want preserved", cred.RefreshToken)
	}
}

func TestGetValidToken_RefreshFailure(t *testing.T) {
	t.Parallel()

	store := newStore(t, Credential{RefreshToken: "refresh"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ts := NewTokenSource(store, WithTokenURL(srv.URL), WithClock(clock()))
	_, err := ts.GetValidToken(context.Background())
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("GetValidToken() = %v, want ErrNoCredential", err)
	}
}

func TestGetValidToken_UnparseableExpirationRefreshes(t *testing.T) {
	t.Parallel()

	store := newStore(t, Credential{
		RefreshToken:    "refresh",
		AccessToken:     "old",
		TokenExpiration: "whenever",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"access_token":"fresh","expiration":"2026-03-15T12:00:00Z"}`)
	}))
	defer srv.Close()

	ts := NewTokenSource(store, WithTokenURL(srv.URL), WithClock(clock()))
	token, err := ts.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken() error: %v", err)
	}
	if token != "fresh" {
		t.Errorf("token = %q, want refresh on unparseable expiration", token)
	}
}

func TestGetValidToken_StringExpirationFromUpstream(t *testing.T) {
	t.Parallel()

	// Upstream sometimes reports expiration as a numeric string; the raw
	// text must be persisted either way.
	store := newStore(t, Credential{RefreshToken: "refresh"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"access_token":"fresh","expiration":"1767225600.5"}`)
	}))
	defer srv.Close()

	ts := NewTokenSource(store, WithTokenURL(srv.URL), WithClock(clock()))
	if _, err := ts.GetValidToken(context.Background()); err != nil {
		t.Fatalf("GetValidToken() error: %v", err)
	}
	cred, _ := store.Load()
	if cred.TokenExpiration != "1767225600.5" {
		t.Errorf("persisted expiration = %q, want 1767225600.5", cred.TokenExpiration)
	}
}

func TestParseExpiration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  time.Time
		ok    bool
	}{
		{
			name:  "epoch seconds",
			value: "1773489600",
			want:  time.Unix(1773489600, 0),
			ok:    true,
		},
		{
			name:  "fractional epoch",
			value: "1773489600.5",
			want:  time.Unix(1773489600, int64(500*time.Millisecond)),
			ok:    true,
		},
		{
			name:  "rfc3339",
			value: "2026-03-14T12:00:00Z",
			want:  time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "naive timestamp in local time",
			value: "2026-03-14T12:00:00",
			want:  time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local),
			ok:    true,
		},
		{name: "empty", value: "", ok: false},
		{name: "garbage", value: "whenever", ok: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseExpiration(tc.value)
			if ok != tc.ok {
				t.Fatalf("parseExpiration(%q) ok = %v, want %v", tc.value, ok, tc.ok)
			}
			if ok && !got.Equal(tc.want) {
				t.Errorf("parseExpiration(%q) = %v, want %v", tc.value, got, tc.want)
			}
		})
	}
}
