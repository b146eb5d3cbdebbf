package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/zmcp/bc-mcp/internal/constants"
)

// TokenData is the persisted token set. ExpiresAt is epoch milliseconds.
type TokenData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// IsExpired reports whether the access token can no longer be used
func (t *TokenData) IsExpired(now time.Time) bool {
	return now.UnixMilli() >= t.ExpiresAt
}

// IsExpiringSoon reports whether the token expires within buffer
func (t *TokenData) IsExpiringSoon(now time.Time, buffer time.Duration) bool {
	return now.UnixMilli() >= t.ExpiresAt-buffer.Milliseconds()
}

// TokenStore persists a single token record
type TokenStore interface {
	// Load returns nil, nil when no usable record exists
	Load(ctx context.Context) (*TokenData, error)
	Save(ctx context.Context, token *TokenData) error
	Clear(ctx context.Context) error
}

// FileTokenStore keeps the token record as a JSON file
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a store backed by path
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Path returns the backing file location
func (s *FileTokenStore) Path() string {
	return s.path
}

// DefaultTokenPath returns {user config dir}/bc-mcp/tokens.json
func DefaultTokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to locate user config directory")
	}
	return filepath.Join(dir, constants.TokenDirName, constants.TokenFileName), nil
}

// Load reads the token file. A missing or unparseable file yields nil, nil.
func (s *FileTokenStore) Load(ctx context.Context) (*TokenData, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read token file")
	}

	var token TokenData
	if err := json.Unmarshal(data, &token); err != nil || token.AccessToken == "" {
		return nil, nil
	}
	return &token, nil
}

// Save overwrites the token file, creating parent directories as needed
func (s *FileTokenStore) Save(ctx context.Context, token *TokenData) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return errors.Wrap(err, "failed to create token directory")
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal token")
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write token file")
	}
	return nil
}

// Clear removes the token file; a missing file is not an error
func (s *FileTokenStore) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "failed to remove token file")
	}
	return nil
}

// MemoryTokenStore keeps the token in process memory only
type MemoryTokenStore struct {
	mu    sync.Mutex
	token *TokenData
}

// NewMemoryTokenStore creates an empty in-memory store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// Load returns a copy of the stored token
func (s *MemoryTokenStore) Load(ctx context.Context) (*TokenData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return nil, nil
	}
	copied := *s.token
	return &copied, nil
}

// Save replaces the stored token
func (s *MemoryTokenStore) Save(ctx context.Context, token *TokenData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.token = &copied
	return nil
}

// Clear drops the stored token
func (s *MemoryTokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
	return nil
}
