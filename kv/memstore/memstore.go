// Package memstore is an in-process kv.Store with change notifications, the
// equivalent of extension storage and its onChanged event.
package memstore

import (
	"context"
	"maps"
	"sync"

	"github.com/jrsteele09/sider-auth/kv"
)

const watchBuffer = 64

var _ kv.Store = (*Store)(nil)
var _ kv.Watcher = (*Store)(nil)

type Store struct {
	data     map[string]string
	watchers map[int]chan kv.Change
	nextID   int
	lock     sync.RWMutex
}

func New() *Store {
	return &Store{
		data:     make(map[string]string),
		watchers: make(map[int]chan kv.Change),
	}
}

// NewWithData returns a store seeded with a copy of data.
func NewWithData(data map[string]string) *Store {
	s := New()
	maps.Copy(s.data, data)
	return s
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return "", kv.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	old, existed := s.data[key]
	if existed && old == value {
		return nil
	}
	s.data[key] = value
	s.notify(kv.Change{Key: key, OldValue: old, NewValue: value})
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, key := range keys {
		old, ok := s.data[key]
		if !ok {
			continue
		}
		delete(s.data, key)
		s.notify(kv.Change{Key: key, OldValue: old, Deleted: true})
	}
	return nil
}

func (s *Store) Snapshot(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	return maps.Clone(s.data), nil
}

func (s *Store) Watch(ctx context.Context) (<-chan kv.Change, error) {
	ch := make(chan kv.Change, watchBuffer)

	s.lock.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		s.lock.Lock()
		delete(s.watchers, id)
		close(ch)
		s.lock.Unlock()
	}()
	return ch, nil
}

// notify must be called with the write lock held.
func (s *Store) notify(change kv.Change) {
	for _, ch := range s.watchers {
		select {
		case ch <- change:
		default:
		}
	}
}
