package llm

import (
	"context"
	"sync"
)

// UsageMeter sums the usage of every call made with a context carrying it.
type UsageMeter struct {
	mu    sync.Mutex
	total Usage
	calls int
}

func (m *UsageMeter) Add(u Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total.Add(u)
	m.calls++
}

func (m *UsageMeter) Total() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Calls returns the number of completed calls, cached ones included.
func (m *UsageMeter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type meterKey struct{}

// WithUsageMeter returns a context whose calls through a MeteredClient are
// added to m.
func WithUsageMeter(ctx context.Context, m *UsageMeter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

// MeterFromContext returns the meter attached to ctx, or nil.
func MeterFromContext(ctx context.Context) *UsageMeter {
	m, _ := ctx.Value(meterKey{}).(*UsageMeter)
	return m
}

// MeteredClient reports the usage of successful calls to the meter found in
// the call's context.
type MeteredClient struct {
	inner Client
}

func NewMeteredClient(inner Client) *MeteredClient {
	return &MeteredClient{inner: inner}
}

func (c *MeteredClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if m := MeterFromContext(ctx); m != nil {
		m.Add(resp.Usage)
	}
	return resp, nil
}
