package blob

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// MockObjectStore is an in-memory ObjectStore for tests. Setting one of the
// function fields overrides the default behavior of that method.
type MockObjectStore struct {
	PutFunc          func(ctx context.Context, bucket, key string, data []byte, contentType string) error
	GetFunc          func(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	PresignedURLFunc func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)

	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	gets    int
}

// NewMockObjectStore creates an empty in-memory store.
func NewMockObjectStore() *MockObjectStore {
	return &MockObjectStore{objects: make(map[string][]byte)}
}

func (m *MockObjectStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	m.mu.Lock()
	m.puts++
	m.mu.Unlock()
	if m.PutFunc != nil {
		return m.PutFunc(ctx, bucket, key, data, contentType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = append([]byte(nil), data...)
	return nil
}

func (m *MockObjectStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.gets++
	m.mu.Unlock()
	if m.GetFunc != nil {
		return m.GetFunc(ctx, bucket, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockObjectStore) PresignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if m.PresignedURLFunc != nil {
		return m.PresignedURLFunc(ctx, bucket, key, ttl)
	}
	return "https://objects.test/" + bucket + "/" + key, nil
}

// Puts returns how many times Put was called.
func (m *MockObjectStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Gets returns how many times Get was called.
func (m *MockObjectStore) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}
