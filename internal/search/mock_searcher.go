package search

import "context"

// MockSearcher is a Searcher for tests.
type MockSearcher struct {
	SearchFunc func(ctx context.Context, query string, limit int) ([]Hit, error)
}

func (m *MockSearcher) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, limit)
	}
	return []Hit{}, nil
}
