package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrLockTimeout is returned when acquiring a lock times out.
	ErrLockTimeout = errors.New("session: lock acquisition timeout")

	// ErrLockerUnavailable is returned by a nil or closed locker.
	ErrLockerUnavailable = errors.New("session locker unavailable")
)

// DefaultLockTimeout bounds how long Lock queues behind the current holder.
const DefaultLockTimeout = 30 * time.Second

// Locker serializes turns per session.
type Locker interface {
	// Lock waits until the session is free, ctx is done, or the acquire
	// timeout expires.
	Lock(ctx context.Context, sessionID string) error

	// TryLock acquires the session only if it is free.
	TryLock(sessionID string) bool

	Unlock(sessionID string)
}

// LocalLocker is an in-process Locker. Waiters are served in no particular
// order.
//
// Thread Safety:
// LocalLocker is safe for concurrent use.
type LocalLocker struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	slot chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker. A non-positive timeout uses
// DefaultLockTimeout.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &LocalLocker{
		timeout: timeout,
		locks:   make(map[string]*sessionLock),
	}
}

// Lock acquires the session lock, waiting at most the locker's timeout.
func (l *LocalLocker) Lock(ctx context.Context, sessionID string) error {
	if l == nil {
		return ErrLockerUnavailable
	}
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session_id is required")
	}

	lock := l.ref(sessionID)
	select {
	case lock.slot <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case lock.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(sessionID)
		return ctx.Err()
	case <-timer.C:
		l.unref(sessionID)
		return ErrLockTimeout
	}
}

// TryLock acquires the session lock without waiting.
func (l *LocalLocker) TryLock(sessionID string) bool {
	if l == nil {
		return false
	}
	lock := l.ref(sessionID)
	select {
	case lock.slot <- struct{}{}:
		return true
	default:
		l.unref(sessionID)
		return false
	}
}

// Unlock releases the session lock. Unlocking a free session is a no-op.
func (l *LocalLocker) Unlock(sessionID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	lock, ok := l.locks[sessionID]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-lock.slot:
		l.unref(sessionID)
	default:
	}
}

// Held reports how many sessions are currently locked or awaited.
func (l *LocalLocker) Held() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *LocalLocker) ref(sessionID string) *sessionLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &sessionLock{slot: make(chan struct{}, 1)}
		l.locks[sessionID] = lock
	}
	lock.refs++
	return lock
}

func (l *LocalLocker) unref(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[sessionID]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs <= 0 {
		delete(l.locks, sessionID)
	}
}
