package blobstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation used in tests and local
// development. It mimics the ordering contract of the hosted stores: List
// returns objects most-recent-first.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*memObject
	clock   func() time.Time

	// Fail, when set, makes every operation return an error. Tests use it
	// to simulate a store outage.
	Fail error
}

type memObject struct {
	key         string
	data        []byte
	contentType string
	uploadedAt  time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*memObject),
		clock:   time.Now,
	}
}

// SetClock overrides the store's notion of now. Tests use it to control
// UploadedAt stamps.
func (m *MemoryStore) SetClock(clock func() time.Time) {
	m.mu.Lock()
	m.clock = clock
	m.mu.Unlock()
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return nil, m.Fail
	}

	var infos []ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, ObjectInfo{
				Key:        key,
				URL:        "mem://" + key,
				UploadedAt: obj.uploadedAt,
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UploadedAt.After(infos[j].UploadedAt)
	})
	return infos, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = &memObject{
		key:         key,
		data:        cp,
		contentType: contentType,
		uploadedAt:  m.clock(),
	}
	return nil
}

func (m *MemoryStore) Fetch(_ context.Context, url string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return nil, m.Fail
	}

	key := strings.TrimPrefix(url, "mem://")
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	if m.Fail != nil {
		return m.Fail
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
