package telemetry

import (
	"context"
	"sync"
)

// Token is a value resolved at most once. Viewer sessions park in Wait until
// the access token arrives; if the fetch failed they stay parked.
type Token struct {
	mu     sync.Mutex
	ready  chan struct{}
	value  string
	failed bool
}

func newToken() *Token {
	return &Token{ready: make(chan struct{})}
}

func (t *Token) resolve(value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.ready:
		return
	default:
	}
	t.value = value
	close(t.ready)
}

func (t *Token) fail() {
	t.mu.Lock()
	t.failed = true
	t.mu.Unlock()
}

// Get returns the token if it has resolved
func (t *Token) Get() (string, bool) {
	select {
	case <-t.ready:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.value, true
	default:
		return "", false
	}
}

// Failed reports whether the one-shot fetch gave up
func (t *Token) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Wait blocks until the token resolves or ctx is done
func (t *Token) Wait(ctx context.Context) (string, error) {
	select {
	case <-t.ready:
		v, _ := t.Get()
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
