package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSourceKey(t *testing.T) {
	if got := SourceKey(42); got != "schedule-import:source:42" {
		t.Errorf("SourceKey(42) = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

func TestMemory_ExcludesSameKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "a")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			if err := unlock(ctx); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("peak holders = %d, want 1", peak)
	}
}

func TestMemory_DifferentKeysIndependent(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ua, err := m.Lock(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	ub, err := m.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("lock b blocked by a: %v", err)
	}
	_ = ua(ctx)
	_ = ub(ctx)
}

func TestMemory_ContextCancelled(t *testing.T) {
	m := NewMemory()
	unlock, err := m.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestMemory_DoubleUnlock(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	unlock, _ := m.Lock(ctx, "a")

	if err := unlock(ctx); err != nil {
		t.Fatal(err)
	}
	if err := unlock(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("second unlock = %v, want ErrNotHeld", err)
	}

	// The key is free again.
	again, err := m.Lock(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	_ = again(ctx)
}

func TestMemory_WaiterProceedsAfterUnlock(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	unlock, _ := m.Lock(ctx, "a")

	got := make(chan struct{})
	go func() {
		u, err := m.Lock(ctx, "a")
		if err == nil {
			_ = u(ctx)
		}
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("waiter acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}
	_ = unlock(ctx)
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

// ---------------------------------------------------------------------------
// Redis (needs a server, set SCHEDULEIMPORT_TEST_REDIS=redis://localhost:6379/15)
// ---------------------------------------------------------------------------

func redisLocker(t *testing.T, ttl time.Duration) *Redis {
	t.Helper()
	url := os.Getenv("SCHEDULEIMPORT_TEST_REDIS")
	if url == "" {
		t.Skip("SCHEDULEIMPORT_TEST_REDIS not set")
	}
	client, err := DialRedis(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	r := NewRedis(client, ttl)
	r.retry = 5 * time.Millisecond
	return r
}

func TestRedis_LockUnlock(t *testing.T) {
	r := redisLocker(t, time.Minute)
	ctx := context.Background()
	key := SourceKey(time.Now().UnixNano())

	unlock, err := r.Lock(ctx, key)
	if err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := r.Lock(short, key); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Lock = %v, want deadline exceeded", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatal(err)
	}
	if err := unlock(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("second unlock = %v, want ErrNotHeld", err)
	}
}

func TestRedis_ExpiredLockNotReleasedByOldHolder(t *testing.T) {
	r := redisLocker(t, 20*time.Millisecond)
	ctx := context.Background()
	key := SourceKey(time.Now().UnixNano())

	stale, err := r.Lock(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)

	r.ttl = time.Minute
	fresh, err := r.Lock(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := stale(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("stale unlock = %v, want ErrNotHeld", err)
	}
	if err := fresh(ctx); err != nil {
		t.Errorf("fresh unlock = %v", err)
	}
}

func TestNewRedis_DefaultTTL(t *testing.T) {
	if r := NewRedis(nil, 0); r.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", r.ttl, DefaultTTL)
	}
}
