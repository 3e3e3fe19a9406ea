// Package storage is the durable key-value state shared by SDK components.
//
// A single Storage is created at SDK start and passed to every component
// that needs it; nothing reaches it through a global. Keys form a closed set
// so typos fail at compile time.
package storage

import (
	"context"
	"strconv"
	"sync"
)

// Key names one stored value.
type Key string

const (
	KeyCustomerID              Key = "customerId"
	KeyVisitorID               Key = "visitorId"
	KeyInitialVisitorID        Key = "initialVisitorId"
	KeyUserEmail               Key = "userEmail"
	KeyDeviceToken             Key = "deviceToken"
	KeyOptIn                   Key = "optIn"
	KeyIsFirstConversion       Key = "isFirstConversion"
	KeyRealtimeSetUserIDFailed Key = "realtimeSetUserIdFailed"
	KeyRealtimeSetEmailFailed  Key = "realtimeSetEmailFailed"
	KeyFirstVisitTimestamp     Key = "firstVisitTimestamp"
)

// Keys lists every known key.
var Keys = []Key{
	KeyCustomerID,
	KeyVisitorID,
	KeyInitialVisitorID,
	KeyUserEmail,
	KeyDeviceToken,
	KeyOptIn,
	KeyIsFirstConversion,
	KeyRealtimeSetUserIDFailed,
	KeyRealtimeSetEmailFailed,
	KeyFirstVisitTimestamp,
}

// Storage persists string values by key.
type Storage interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key Key) (string, bool, error)
	Set(ctx context.Context, key Key, value string) error
	Delete(ctx context.Context, key Key) error
}

// GetString returns the value of key, or "" when absent or unreadable.
func GetString(ctx context.Context, s Storage, key Key) string {
	v, _, err := s.Get(ctx, key)
	if err != nil {
		return ""
	}
	return v
}

// GetBool parses a stored boolean; absent or malformed reads as false.
func GetBool(ctx context.Context, s Storage, key Key) bool {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// SetBool stores b.
func SetBool(ctx context.Context, s Storage, key Key, b bool) error {
	return s.Set(ctx, key, strconv.FormatBool(b))
}

// GetInt parses a stored integer; absent or malformed reads as (0, false).
func GetInt(ctx context.Context, s Storage, key Key) (int64, bool) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SetInt stores n.
func SetInt(ctx context.Context, s Storage, key Key, n int64) error {
	return s.Set(ctx, key, strconv.FormatInt(n, 10))
}

// MemoryStore is a Storage kept in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[Key]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[Key]string)}
}

// Get implements Storage.
func (m *MemoryStore) Get(_ context.Context, key Key) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements Storage.
func (m *MemoryStore) Set(_ context.Context, key Key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Delete implements Storage.
func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
