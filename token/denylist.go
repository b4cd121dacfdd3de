package token

import (
	"errors"
	"sync"
	"time"
)

var ErrEmptyTokenID = errors.New("token id is empty")

// Denylist blocks logged out access tokens by jti until they would have
// expired anyway.
type Denylist interface {
	Revoke(jti string, until time.Time) error
	IsRevoked(jti string) bool
	// Prune drops entries whose token has expired by now and reports how many
	Prune(now time.Time) int
}

// MemoryDenylist is a process-local Denylist. A restart forgets every entry.
type MemoryDenylist struct {
	lock  sync.RWMutex
	until map[string]time.Time
}

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{until: make(map[string]time.Time)}
}

// Revoke blocks jti until the given time. Revoking twice keeps the later time.
func (d *MemoryDenylist) Revoke(jti string, until time.Time) error {
	if jti == "" {
		return ErrEmptyTokenID
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if current, ok := d.until[jti]; ok && current.After(until) {
		return nil
	}
	d.until[jti] = until
	return nil
}

func (d *MemoryDenylist) IsRevoked(jti string) bool {
	d.lock.RLock()
	defer d.lock.RUnlock()
	_, ok := d.until[jti]
	return ok
}

func (d *MemoryDenylist) Prune(now time.Time) int {
	d.lock.Lock()
	defer d.lock.Unlock()
	pruned := 0
	for jti, until := range d.until {
		if !now.Before(until) {
			delete(d.until, jti)
			pruned++
		}
	}
	return pruned
}

// Len reports the number of blocked tokens.
func (d *MemoryDenylist) Len() int {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return len(d.until)
}
