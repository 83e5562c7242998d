// Package lock serializes work on a schedule source. Commit and delete of the
// same source must never interleave, within one process or across several
// processes sharing a database.
package lock

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// ErrNotHeld is returned by an unlock whose lock has already been released
// or has expired.
var ErrNotHeld = errors.New("lock not held")

// Unlock releases a lock obtained from a [Locker].
type Unlock func(ctx context.Context) error

// Locker hands out exclusive locks by key. Lock blocks until the lock is
// acquired or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// SourceKey is the lock key for a schedule source.
func SourceKey(id int64) string {
	return "schedule-import:source:" + strconv.FormatInt(id, 10)
}

// ---------------------------------------------------------------------------
// In-process
// ---------------------------------------------------------------------------

// Memory is a keyed mutex for a single process.
type Memory struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewMemory returns an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]chan struct{})}
}

// Lock implements [Locker].
func (m *Memory) Lock(ctx context.Context, key string) (Unlock, error) {
	for {
		m.mu.Lock()
		wait, busy := m.held[key]
		if !busy {
			done := make(chan struct{})
			m.held[key] = done
			m.mu.Unlock()
			return m.release(key, done), nil
		}
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Memory) release(key string, done chan struct{}) Unlock {
	var once sync.Once
	return func(context.Context) error {
		err := ErrNotHeld
		once.Do(func() {
			m.mu.Lock()
			if m.held[key] == done {
				delete(m.held, key)
			}
			m.mu.Unlock()
			close(done)
			err = nil
		})
		return err
	}
}
