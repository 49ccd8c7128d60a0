package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gadgetcloud/portal/internal/identity"
)

// Snapshot is the persisted form of a session. Token and Identity are
// always written and cleared together.
type Snapshot struct {
	Token    string             `json:"token"`
	Identity *identity.Identity `json:"identity"`
}

// wellFormed reports whether the snapshot can back an authenticated session.
func (s *Snapshot) wellFormed() bool {
	return s != nil && s.Token != "" && s.Identity.Valid()
}

// Persister stores one session snapshot.
type Persister interface {
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Clear(ctx context.Context) error
}

// RedisPersister keeps the snapshot under a single Redis key.
type RedisPersister struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisPersister stores the snapshot at key. A zero ttl never expires.
func NewRedisPersister(client *redis.Client, key string, ttl time.Duration) *RedisPersister {
	return &RedisPersister{client: client, key: key, ttl: ttl}
}

// Load implements Persister.
func (p *RedisPersister) Load(ctx context.Context) (*Snapshot, error) {
	payload, err := p.client.Get(ctx, p.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: load %s: %w", p.key, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return &snap, nil
}

// Save implements Persister.
func (p *RedisPersister) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := p.client.Set(ctx, p.key, data, p.ttl).Err(); err != nil {
		return fmt.Errorf("session: save %s: %w", p.key, err)
	}
	return nil
}

// Clear implements Persister.
func (p *RedisPersister) Clear(ctx context.Context) error {
	if err := p.client.Del(ctx, p.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: clear %s: %w", p.key, err)
	}
	return nil
}

// MemoryPersister keeps the snapshot in process memory.
type MemoryPersister struct {
	mu   sync.Mutex
	data []byte
}

// Load implements Persister.
func (p *MemoryPersister) Load(ctx context.Context) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data == nil {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(p.data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return &snap, nil
}

// Save implements Persister.
func (p *MemoryPersister) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.data = data
	p.mu.Unlock()
	return nil
}

// Clear implements Persister.
func (p *MemoryPersister) Clear(ctx context.Context) error {
	p.mu.Lock()
	p.data = nil
	p.mu.Unlock()
	return nil
}

var (
	_ Persister = (*RedisPersister)(nil)
	_ Persister = (*MemoryPersister)(nil)
)
