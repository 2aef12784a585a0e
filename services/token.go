package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"clicast/config"
)

// MinTokenLength is the minimum accepted bearer token length.
const MinTokenLength = 8

// legacyTokenFile is the pre-JSON location of the bare token digest.
const legacyTokenFile = ".clicast-token"

var (
	ErrAlreadyExists = errors.New("token already initialized")
	ErrWeakToken     = errors.New("token must be at least 8 characters")
	ErrUnauthorized  = errors.New("invalid token")
	ErrNoToken       = errors.New("no token configured")
)

// TokenStore manages the single bearer credential persisted under
// auth.tokenHash in the config file.
type TokenStore struct {
	cfg     *config.Store
	migrate sync.Once
}

func NewTokenStore(cfg *config.Store) *TokenStore {
	return &TokenStore{cfg: cfg}
}

// HashToken returns the hex SHA-256 digest of a plain token.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// HasToken reports whether a credential is configured.
func (t *TokenStore) HasToken() bool {
	t.migrateLegacy()
	cfg := t.cfg.Get()
	return cfg.Auth != nil && cfg.Auth.TokenHash != ""
}

// Init stores the first credential. Fails with ErrAlreadyExists when one
// is present and ErrWeakToken for short tokens.
func (t *TokenStore) Init(plain string) error {
	t.migrateLegacy()
	if len(plain) < MinTokenLength {
		return ErrWeakToken
	}
	return t.cfg.Update(func(c *config.FileConfig) error {
		if c.Auth != nil && c.Auth.TokenHash != "" {
			return ErrAlreadyExists
		}
		c.Auth = &config.AuthConfig{TokenHash: HashToken(plain)}
		return nil
	})
}

// Verify compares the submitted token against the stored digest in
// constant time. A missing credential never verifies.
func (t *TokenStore) Verify(plain string) bool {
	t.migrateLegacy()
	cfg := t.cfg.Get()
	if cfg.Auth == nil || cfg.Auth.TokenHash == "" {
		return false
	}
	submitted := []byte(HashToken(plain))
	stored := []byte(cfg.Auth.TokenHash)
	return subtle.ConstantTimeCompare(submitted, stored) == 1
}

// Rotate replaces the credential after verifying the current one.
func (t *TokenStore) Rotate(current, next string) error {
	t.migrateLegacy()
	if !t.HasToken() {
		return ErrNoToken
	}
	if !t.Verify(current) {
		return ErrUnauthorized
	}
	if len(next) < MinTokenLength {
		return ErrWeakToken
	}
	return t.cfg.Update(func(c *config.FileConfig) error {
		c.Auth = &config.AuthConfig{TokenHash: HashToken(next)}
		return nil
	})
}

// Clear removes the auth subtree.
func (t *TokenStore) Clear() error {
	return t.cfg.Update(func(c *config.FileConfig) error {
		c.Auth = nil
		return nil
	})
}

// migrateLegacy imports a bare-digest .clicast-token file, once, and only
// when the JSON config has no auth block. The JSON file is authoritative.
func (t *TokenStore) migrateLegacy() {
	t.migrate.Do(func() {
		cfg := t.cfg.Get()
		if cfg.Auth != nil && cfg.Auth.TokenHash != "" {
			return
		}
		legacy := filepath.Join(filepath.Dir(t.cfg.Path()), legacyTokenFile)
		data, err := os.ReadFile(legacy)
		if err != nil {
			return
		}
		digest := strings.TrimSpace(string(data))
		if !validDigest(digest) {
			log.Printf("Auth: ignoring malformed legacy token file %s", legacy)
			return
		}
		err = t.cfg.Update(func(c *config.FileConfig) error {
			c.Auth = &config.AuthConfig{TokenHash: digest}
			return nil
		})
		if err != nil {
			log.Printf("Auth: legacy token migration failed: %v", err)
			return
		}
		os.Remove(legacy)
		log.Printf("Auth: migrated legacy token file %s", legacy)
	})
}

func validDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
