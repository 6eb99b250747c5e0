package reactiveq

import (
	"context"
	"sync"
)

// PromiseState is one of the four states a SharedPromise moves through.
type PromiseState int

const (
	StateInit PromiseState = iota
	StateLoading
	StateResolved
	StateRejected
)

func (s PromiseState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateLoading:
		return "loading"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// SharedPromise is a one-shot cooperative latch coalescing multiple
// concurrent requesters of one logical async result. It is not a bare Go
// channel or sync.Once: it carries an explicit four-state lifecycle
// (init -> loading -> resolved|rejected), a resolved value accessible
// synchronously once settled, and a single change callback fired on every
// transition.
//
// Start on any non-init state is a no-op. Resolve/Reject on any
// non-loading state is a no-op. Both properties make SharedPromise safe to
// drive from multiple goroutines without external locking.
type SharedPromise[T any] struct {
	mu       sync.Mutex
	state    PromiseState
	value    T
	err      error
	settled  chan struct{}
	onChange func(PromiseState)
}

// NewSharedPromise creates a SharedPromise in the init state. onChange, if
// non-nil, is invoked exactly once per state transition, after the
// transition has taken effect.
func NewSharedPromise[T any](onChange func(PromiseState)) *SharedPromise[T] {
	return &SharedPromise[T]{
		state:    StateInit,
		settled:  make(chan struct{}),
		onChange: onChange,
	}
}

// State returns the current state synchronously.
func (p *SharedPromise[T]) State() PromiseState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Value returns the resolved value and true if the promise has resolved.
// It returns the zero value and false for every other state, including
// rejected.
func (p *SharedPromise[T]) Value() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateResolved {
		return p.value, true
	}
	var zero T
	return zero, false
}

// Err returns the rejection cause, or nil if the promise has not rejected.
func (p *SharedPromise[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Start transitions init -> loading. A no-op (returns false) on any other
// state, which is how concurrent callers coalesce onto one in-flight
// fetch: only the first Start call actually starts anything.
func (p *SharedPromise[T]) Start() bool {
	p.mu.Lock()
	if p.state != StateInit {
		p.mu.Unlock()
		return false
	}
	p.state = StateLoading
	p.mu.Unlock()

	p.notify(StateLoading)
	return true
}

// Resolve transitions loading -> resolved. A no-op on any other state.
func (p *SharedPromise[T]) Resolve(v T) {
	p.mu.Lock()
	if p.state != StateLoading {
		p.mu.Unlock()
		return
	}
	p.value = v
	p.state = StateResolved
	close(p.settled)
	p.mu.Unlock()

	p.notify(StateResolved)
}

// Reject transitions loading -> rejected. A no-op on any other state.
func (p *SharedPromise[T]) Reject(err error) {
	p.mu.Lock()
	if p.state != StateLoading {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.state = StateRejected
	close(p.settled)
	p.mu.Unlock()

	p.notify(StateRejected)
}

func (p *SharedPromise[T]) notify(s PromiseState) {
	if p.onChange != nil {
		p.onChange(s)
	}
}

// forceReject drives p to rejected regardless of its current state: init
// is pushed through loading first (Start then Reject), loading rejects
// directly, and an already-resolved or already-rejected promise is left
// untouched (Start/Reject are no-ops once past init/loading). Used to
// settle sibling facets once a sticky error rules out them ever
// legitimately resolving, so nothing is left awaiting a promise that will
// never otherwise transition.
func forceReject[T any](p *SharedPromise[T], err error) {
	p.Start()
	p.Reject(err)
}

// Await blocks until the promise settles (resolved or rejected) or ctx is
// done, whichever comes first. Callers may Await regardless of the current
// state: an already-settled promise returns immediately.
func (p *SharedPromise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.settled:
		return p.Settled()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Settled returns the terminal value/error pair once the promise has
// resolved or rejected. Unlike Value, it distinguishes "rejected with this
// error" from "not yet resolved" by always returning the sticky err
// alongside whatever value was captured.
func (p *SharedPromise[T]) Settled() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}
