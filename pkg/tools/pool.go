package tools

import "context"

// Pool bounds how many I/O-heavy tool executions run concurrently
// across all sessions. Light tools bypass it.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a pool with the given concurrency limit.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Run executes fn once a worker slot is free, or fails when ctx is
// cancelled while waiting.
func (p *Pool) Run(ctx context.Context, fn func() (map[string]any, error)) (map[string]any, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.sem }()
	return fn()
}
