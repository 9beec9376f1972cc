package consumer

import (
	"context"
	"sync"
	"time"
)

// memoryKV 内存 KVStore，带过期时间；err 非空时所有操作返回该错误
type memoryKV struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
	err     error
}

func newFakeKVStore() *memoryKV {
	return &memoryKV{
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}

	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.values, key)
		delete(m.expires, key)
	}
	v, ok := m.values[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return v, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	m.values[key] = value
	delete(m.expires, key)
	if ttl > 0 {
		m.expires[key] = time.Now().Add(ttl)
	}
	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.values, key)
	delete(m.expires, key)
	return nil
}
