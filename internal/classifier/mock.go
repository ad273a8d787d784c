package classifier

import (
	"context"
	"sync"
)

// Mock is a classifier test double returning canned results or an error.
// Swappable with the HTTP client because lifecycle logic depends only on
// Interface. Safe for concurrent use.
type Mock struct {
	Results []Result
	Err     error

	mu    sync.Mutex
	calls int
}

// Classify returns the configured results or error.
func (m *Mock) Classify(ctx context.Context, image []byte) ([]Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Results, nil
}

// CallCount reports how many times Classify has been invoked.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
