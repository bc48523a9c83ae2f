// Package notifier implements a shared value that
// multiple watchers can be notified about when it changes.
package notifier

import (
	"sync"
)

// Value holds a value that can be watched for changes.
// The zero Value is ready to use. Methods on a Value may be
// called concurrently.
type Value[T any] struct {
	mu      sync.RWMutex
	wait    sync.Cond
	version int
	val     T
	closed  bool
}

func (v *Value[T]) needsInit() bool {
	return v.wait.L == nil
}

func (v *Value[T]) init() {
	if v.needsInit() {
		v.wait.L = v.mu.RLocker()
	}
}

// Set sets the value and notifies all watchers.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	v.init()
	v.val = x
	v.version++
	v.mu.Unlock()
	v.wait.Broadcast()
}

// Get returns the current value and whether it has ever been set.
func (v *Value[T]) Get() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.val, v.version > 0
}

// Close closes the Value, unblocking any outstanding watchers.
// Close always returns nil.
func (v *Value[T]) Close() error {
	v.mu.Lock()
	v.init()
	v.closed = true
	v.mu.Unlock()
	v.wait.Broadcast()
	return nil
}

// Closed reports whether the value has been closed.
func (v *Value[T]) Closed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.closed
}

// Watch returns a Watcher that can be used to watch for changes to
// the value. If the value has been set, the first call to Next
// returns immediately.
func (v *Value[T]) Watch() *Watcher[T] {
	return &Watcher[T]{v: v}
}

// Watcher represents a single watcher of a shared value.
type Watcher[T any] struct {
	v       *Value[T]
	version int
	val     T
	closed  bool
}

// Next blocks until there is a new value to be retrieved with
// Value. Intermediate values set while the watcher was not
// waiting are skipped. Next returns false if the value or the
// Watcher itself have been closed.
func (w *Watcher[T]) Next() bool {
	v := w.v
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.needsInit() {
		v.mu.RUnlock()
		v.mu.Lock()
		v.init()
		v.mu.Unlock()
		v.mu.RLock()
	}
	// Wait only returns after a Set or a Close, both of which
	// cause the loop to terminate on the next iteration.
	for {
		if w.closed || v.closed {
			return false
		}
		if w.version != v.version {
			w.version = v.version
			w.val = v.val
			return true
		}
		v.wait.Wait()
	}
}

// Value returns the value retrieved by the most recent call to Next.
func (w *Watcher[T]) Value() T {
	return w.val
}

// Close closes the Watcher without closing the underlying
// value. It may be called concurrently with Next.
func (w *Watcher[T]) Close() {
	w.v.mu.Lock()
	w.v.init()
	w.closed = true
	w.v.mu.Unlock()
	w.v.wait.Broadcast()
}
