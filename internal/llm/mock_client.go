package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a Client for tests. CompleteFunc decides the response; when it
// is nil the mock answers from Responses keyed by Request.Tag.
type MockClient struct {
	CompleteFunc func(ctx context.Context, req *Request) (*Response, error)
	Responses    map[string]string

	mu    sync.Mutex
	calls []*Request
}

func (m *MockClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, ok := m.Responses[req.Tag]
	if !ok {
		return nil, fmt.Errorf("mock: no response for %q", req.Tag)
	}
	return &Response{Text: text, Model: "mock"}, nil
}

// Calls returns the requests received so far.
func (m *MockClient) Calls() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Request(nil), m.calls...)
}

// CallCount returns how many requests carried tag.
func (m *MockClient) CallCount(tag string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Tag == tag {
			n++
		}
	}
	return n
}
