// Package auth issues and validates merchant API keys.
//
// Keys look like "cp_<64 hex>" and are shown to the merchant exactly
// once, at creation; only the SHA-256 hash is stored. Every ingest and
// dashboard endpoint resolves its merchant through a key.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cartpulse/cartpulse/internal/idgen"
)

var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid or expired API key")
	ErrKeyNotFound   = errors.New("API key not found")
)

// APIKey is the stored metadata for one key. The raw secret never
// persists.
type APIKey struct {
	ID         string     `json:"id"`
	Hash       string     `json:"-"`
	MerchantID string     `json:"merchantId"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsed   time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// Store persists API keys.
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	GetByMerchant(ctx context.Context, merchantID string) ([]*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
	Delete(ctx context.Context, id string) error
}

// Manager issues, validates, and revokes keys against a Store.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Store returns the underlying key store.
func (m *Manager) Store() Store { return m.store }

// GenerateKey mints a key for a merchant. The raw key is returned for
// display once; afterwards only its hash can match it.
func (m *Manager) GenerateKey(ctx context.Context, merchantID, name string) (rawKey string, key *APIKey, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	rawKey = "cp_" + hex.EncodeToString(b)

	key = &APIKey{
		ID:         idgen.WithPrefix("ak_"),
		Hash:       hashKey(rawKey),
		MerchantID: merchantID,
		Name:       name,
		CreatedAt:  time.Now(),
	}
	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// ValidateKey resolves a presented key (with or without the "Bearer "
// prefix) to its metadata. Revoked and expired keys fail the same way as
// unknown ones.
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}

	rawKey = strings.TrimSpace(strings.TrimPrefix(rawKey, "Bearer "))
	if !strings.HasPrefix(rawKey, "cp_") {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrInvalidAPIKey
	}

	// Last-used updates are advisory; never block the request on one.
	go func() {
		key.LastUsed = time.Now()
		_ = m.store.Update(context.Background(), key)
	}()

	return key, nil
}

// ListKeys returns a merchant's keys.
func (m *Manager) ListKeys(ctx context.Context, merchantID string) ([]*APIKey, error) {
	return m.store.GetByMerchant(ctx, merchantID)
}

// RevokeKey revokes one of a merchant's keys. Scoping the lookup to the
// merchant means one tenant can never revoke another's key by ID.
func (m *Manager) RevokeKey(ctx context.Context, keyID, merchantID string) error {
	keys, err := m.store.GetByMerchant(ctx, merchantID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.store.Update(ctx, k)
		}
	}
	return ErrKeyNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore keeps keys in a map, for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey // by ID
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*APIKey)}
}

func (s *MemoryStore) Create(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}

func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			return k, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) GetByMerchant(ctx context.Context, merchantID string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*APIKey
	for _, k := range s.keys {
		if k.MerchantID == merchantID {
			result = append(result, k)
		}
	}
	return result, nil
}

func (s *MemoryStore) Update(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	return nil
}
