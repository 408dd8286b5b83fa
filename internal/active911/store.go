// Package active911 integrates with the Active911 alerting API: the access
// token lifecycle (load, validate, refresh, persist) and the two-step alert
// fetch used to enrich notifications with incident details.
//
// Enrichment is best-effort by contract. Every transport or decode failure
// in this package surfaces as an error or absent result at the package
// boundary; nothing here can abort the processing loop.
package active911

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// PlaceholderRefreshToken is the value shipped in the example credential
// file. It reads as "not configured".
const PlaceholderRefreshToken = "your_refresh_token_here"

// Credential is the persisted token record. TokenExpiration keeps the raw
// upstream value — epoch seconds (possibly fractional, as a number or a
// numeric string) or an ISO-8601 timestamp — and is parsed on use.
type Credential struct {
	RefreshToken    string    `yaml:"refresh_token"`
	AccessToken     string    `yaml:"access_token"`
	TokenExpiration RawScalar `yaml:"token_expiration"`
}

// Configured reports whether a usable refresh token is present.
func (c Credential) Configured() bool {
	return c.RefreshToken != "" && c.RefreshToken != PlaceholderRefreshToken
}

// RawScalar holds a YAML scalar verbatim, whether the file stored it as a
// number or a string.
type RawScalar string

// UnmarshalYAML accepts any scalar and keeps its text.
func (r *RawScalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("active911: token_expiration must be a scalar, got %s", node.Tag)
	}
	*r = RawScalar(node.Value)
	return nil
}

// CredentialStore persists the Credential as a small YAML file, rewritten
// wholesale after every successful refresh. Thread-safe.
type CredentialStore struct {
	mu   sync.Mutex
	path string
}

// NewCredentialStore creates a store over the file at path. The file need
// not exist yet; Load of a missing file returns a zero Credential.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Load reads the credential file. A missing file is not an error.
func (s *CredentialStore) Load() (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credential{}, nil
		}
		return Credential{}, fmt.Errorf("active911: read %q: %w", s.path, err)
	}
	var cred Credential
	if err := yaml.Unmarshal(data, &cred); err != nil {
		return Credential{}, fmt.Errorf("active911: parse %q: %w", s.path, err)
	}
	return cred, nil
}

// Save rewrites the credential file with cred.
func (s *CredentialStore) Save(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(cred)
	if err != nil {
		return fmt.Errorf("active911: marshal credential: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("active911: write %q: %w", s.path, err)
	}
	return nil
}
