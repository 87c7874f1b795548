package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Guard is the store-wide lock. It is reentrant through the context returned
// by Acquire: a caller that already holds the guard passes that context down
// and nested acquisitions succeed immediately.
type Guard struct {
	sem     chan struct{}
	timeout time.Duration
	holder  atomic.Pointer[guardToken]
}

type guardKey struct{ g *Guard }

// guardToken identifies one acquisition. It is not zero-sized so that every
// token has its own address.
type guardToken struct{ _ byte }

// NewGuard returns a guard whose acquisitions give up after timeout. A zero
// timeout waits until the caller's context is done.
func NewGuard(timeout time.Duration) *Guard {
	return &Guard{sem: make(chan struct{}, 1), timeout: timeout}
}

// Held reports whether ctx carries the current acquisition of this guard.
// A context kept past its release no longer counts.
func (g *Guard) Held(ctx context.Context) bool {
	tok, _ := ctx.Value(guardKey{g}).(*guardToken)
	return tok != nil && g.holder.Load() == tok
}

// Acquire takes the guard. The returned release func is idempotent and must
// be called on every path; the returned context marks the guard as held.
func (g *Guard) Acquire(ctx context.Context) (context.Context, func(), error) {
	if g.Held(ctx) {
		return ctx, func() {}, nil
	}
	var timeout <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case g.sem <- struct{}{}:
	case <-timeout:
		return ctx, func() {}, fmt.Errorf("after %s: %w", g.timeout, ErrLockTimeout)
	case <-ctx.Done():
		return ctx, func() {}, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
	}
	tok := &guardToken{}
	g.holder.Store(tok)
	var once sync.Once
	release := func() {
		once.Do(func() {
			g.holder.CompareAndSwap(tok, nil)
			<-g.sem
		})
	}
	return context.WithValue(ctx, guardKey{g}, tok), release, nil
}
