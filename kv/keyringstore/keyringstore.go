// Package keyringstore keeps a kv.Store in the operating system keychain. The
// whole map is stored as one JSON secret so it can be read and replaced
// atomically.
package keyringstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/jrsteele09/sider-auth/kv"
	"github.com/zalando/go-keyring"
)

const (
	DefaultService = "sider"
	entryUser      = "kv"
)

var _ kv.Store = (*Store)(nil)

type Store struct {
	service string
	lock    sync.Mutex
}

func New(service string) *Store {
	if service == "" {
		service = DefaultService
	}
	return &Store{service: service}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := data[key]
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

	data, err := s.load()
	if err != nil {
		return err
	}
	data[key] = value
	return s.save(data)
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	before := len(data)
	for _, key := range keys {
		delete(data, key)
	}
	if len(data) == before {
		return nil
	}
	return s.save(data)
}

func (s *Store) Snapshot(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	return maps.Clone(data), nil
}

func (s *Store) load() (map[string]string, error) {
	secret, err := keyring.Get(s.service, entryUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring get %s: %w", s.service, err)
	}
	data := make(map[string]string)
	if err := json.Unmarshal([]byte(secret), &data); err != nil {
		return nil, fmt.Errorf("decode keyring entry %s: %w", s.service, err)
	}
	return data, nil
}

func (s *Store) save(data map[string]string) error {
	if len(data) == 0 {
		if err := keyring.Delete(s.service, entryUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("keyring delete %s: %w", s.service, err)
		}
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode keyring entry: %w", err)
	}
	if err := keyring.Set(s.service, entryUser, string(raw)); err != nil {
		return fmt.Errorf("keyring set %s: %w", s.service, err)
	}
	return nil
}
