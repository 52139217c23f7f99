package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Lock serializes runs. Owners are run ids.
type Lock interface {
	Acquire(ctx context.Context, owner string) (bool, error)
	Refresh(ctx context.Context, owner string) error
	Release(ctx context.Context, owner string) error
}

// leased is implemented by locks that expire unless refreshed.
type leased interface {
	TTL() time.Duration
}

// LocalLock is an in-process Lock.
type LocalLock struct {
	mu    sync.Mutex
	owner string
}

// NewLocalLock creates a free in-process lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

func (l *LocalLock) Acquire(ctx context.Context, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != "" && l.owner != owner {
		return false, nil
	}
	l.owner = owner
	return true, nil
}

func (l *LocalLock) Refresh(ctx context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != owner {
		return fmt.Errorf("lock is not held by %s", owner)
	}
	return nil
}

func (l *LocalLock) Release(ctx context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == owner {
		l.owner = ""
	}
	return nil
}
