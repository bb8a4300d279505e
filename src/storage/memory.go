package storage

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type itemKind int

const (
	kindValue itemKind = iota
	kindSet
	kindList
	kindHash
)

type memoryItem struct {
	kind      itemKind
	value     []byte
	set       map[string]struct{}
	list      [][]byte
	hash      map[string]string
	expiresAt time.Time
}

// MemoryStore is an in-process implementation of Store for development and tests.
// It is not shared between processes.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memoryItem
	now   func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		items: make(map[string]*memoryItem),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lookup returns the live item for key, evicting it if expired. Caller holds mu.
func (m *MemoryStore) lookup(key string) *memoryItem {
	item, ok := m.items[key]
	if !ok {
		return nil
	}
	if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return nil
	}
	return item
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryStore) ensure(key string, kind itemKind) (*memoryItem, error) {
	item := m.lookup(key)
	if item == nil {
		item = &memoryItem{kind: kind}
		switch kind {
		case kindSet:
			item.set = make(map[string]struct{})
		case kindHash:
			item.hash = make(map[string]string)
		}
		m.items[key] = item
		return item, nil
	}
	if item.kind != kind {
		return nil, ErrWrongType
	}
	return item, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.lookup(key)
	if item == nil {
		return nil, ErrNotFound
	}
	if item.kind != kindValue {
		return nil, ErrWrongType
	}
	return cloneBytes(item.value), nil
}

func (m *MemoryStore) GetEx(_ context.Context, key string, ttl time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.lookup(key)
	if item == nil {
		return nil, ErrNotFound
	}
	if item.kind != kindValue {
		return nil, ErrWrongType
	}
	item.expiresAt = m.expiry(ttl)
	return cloneBytes(item.value), nil
}

func (m *MemoryStore) MGet(_ context.Context, keys ...string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(keys))
	for i, key := range keys {
		if item := m.lookup(key); item != nil && item.kind == kindValue {
			out[i] = cloneBytes(item.value)
		}
	}
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = &memoryItem{kind: kindValue, value: cloneBytes(value), expiresAt: m.expiry(ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.lookup(key)
	if item == nil {
		return false, nil
	}
	item.expiresAt = m.expiry(ttl)
	return true, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(key) != nil, nil
}

func (m *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.ensure(key, kindSet)
	if err != nil {
		return err
	}
	for _, member := range members {
		item.set[member] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.lookup(key)
	if item == nil {
		return nil
	}
	if item.kind != kindSet {
		return ErrWrongType
	}
	for _, member := range members {
		delete(item.set, member)
	}
	if len(item.set) == 0 {
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.lookup(key)
	if item == nil {
		return []string{}, nil
	}
	if item.kind != kindSet {
		return nil, ErrWrongType
	}
	out := make([]string, 0, len(item.set))
	for member := range item.set {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemoryStore) RPush(_ context.Context, key string, values ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.ensure(key, kindList)
	if err != nil {
		return err
	}
	for _, v := range values {
		item.list = append(item.list, cloneBytes(v))
	}
	return nil
}

func (m *MemoryStore) LPush(_ context.Context, key string, values ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.ensure(key, kindList)
	if err != nil {
		return err
	}
	// Redis LPUSH inserts each value at the head in argument order
	for _, v := range values {
		item.list = append([][]byte{cloneBytes(v)}, item.list...)
	}
	return nil
}

func (m *MemoryStore) LPop(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.lookup(key)
	if item == nil {
		return nil, ErrNotFound
	}
	if item.kind != kindList {
		return nil, ErrWrongType
	}
	head := item.list[0]
	item.list = item.list[1:]
	if len(item.list) == 0 {
		delete(m.items, key)
	}
	return head, nil
}

func (m *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.lookup(key)
	if item == nil {
		return 0, nil
	}
	if item.kind != kindList {
		return 0, ErrWrongType
	}
	return int64(len(item.list)), nil
}

func (m *MemoryStore) HIncrBy(_ context.Context, key, field string, incr int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.ensure(key, kindHash)
	if err != nil {
		return 0, err
	}
	current, _ := strconv.ParseInt(item.hash[field], 10, 64)
	current += incr
	item.hash[field] = strconv.FormatInt(current, 10)
	return current, nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.lookup(key)
	out := make(map[string]string)
	if item == nil {
		return out, nil
	}
	if item.kind != kindHash {
		return nil, ErrWrongType
	}
	for k, v := range item.hash {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
