package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// KV is the durable key/value storage the profile is persisted in.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Store keeps the process-wide profile. It is read once on Open and written
// on every Save.
type Store struct {
	kv     KV
	key    string
	logger *slog.Logger

	mu      sync.RWMutex
	current Profile
}

// Open loads the persisted profile. A missing or unreadable entry falls back
// to the default; persisted values are clamped.
func Open(ctx context.Context, kv KV, key string, logger *slog.Logger) (*Store, error) {
	if key == "" {
		key = DefaultKey
	}
	s := &Store{
		kv:      kv,
		key:     key,
		logger:  logger.With(slog.String("component", "profile")),
		current: Default(),
	}
	data, ok, err := kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		return s, nil
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("ignoring unreadable listening profile", slog.String("error", err.Error()))
		return s, nil
	}
	s.current = decoded(data, p).Clamp()
	return s, nil
}

// decoded fills fields missing from the stored JSON with defaults.
func decoded(data []byte, p Profile) Profile {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return p
	}
	if _, ok := fields["pace"]; !ok {
		p.Pace = 1
	}
	if _, ok := fields["pitch"]; !ok {
		p.Pitch = 1
	}
	return p
}

func (s *Store) Current() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save clamps p, persists it and makes it current. The clamped value is
// returned.
func (s *Store) Save(ctx context.Context, p Profile) (Profile, error) {
	p = p.Clamp()
	data, err := json.Marshal(p)
	if err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Put(ctx, s.key, data); err != nil {
		return s.current, fmt.Errorf("save profile: %w", err)
	}
	s.current = p
	return p, nil
}

// MemoryKV is a process-local KV, used when no event store is configured.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV { return &MemoryKV{data: make(map[string][]byte)} }

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}
