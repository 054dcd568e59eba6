package certs

import (
	"context"
	"strconv"
	"sync"

	"netpilot-hq/netpilot/pkg/model"
)

// Locker hands out exclusive, non-blocking locks by key. TryLock returns
// ok=false without waiting when the key is held.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// LockKey returns the issuance lock key of a domain.
func LockKey(scope model.Scope, domainID int64) string {
	return "cert:" + scope.String() + ":" + strconv.FormatInt(domainID, 10)
}

// KeyedLocker is an in-process Locker.
type KeyedLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyedLocker creates an empty locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{held: make(map[string]struct{})}
}

// TryLock implements Locker.
func (l *KeyedLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether key is currently locked.
func (l *KeyedLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
