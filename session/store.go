package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/sider-auth/kv"
	"github.com/rs/zerolog/log"
)

// Store reads and writes a Session and UserProfile through a kv.Store using
// one Layout.
type Store struct {
	kv     kv.Store
	layout Layout
}

func NewStore(store kv.Store, layout Layout) *Store {
	return &Store{kv: store, layout: layout}
}

func (s *Store) Layout() Layout {
	return s.layout
}

// KV returns the underlying key/value store.
func (s *Store) KV() kv.Store {
	return s.kv
}

// Load returns the stored session. Missing keys yield empty fields.
func (s *Store) Load(ctx context.Context) (Session, error) {
	access, err := s.get(ctx, s.layout.AccessToken)
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.get(ctx, s.layout.RefreshToken)
	if err != nil {
		return Session{}, err
	}
	rawExpiry, err := s.get(ctx, s.layout.Expiry)
	if err != nil {
		return Session{}, err
	}

	sess := Session{AccessToken: access, RefreshToken: refresh}
	if rawExpiry != "" {
		expiry, err := time.Parse(time.RFC3339, rawExpiry)
		if err != nil {
			log.Warn().Err(err).Str("key", s.layout.Expiry).Msg("Ignoring unparseable token expiry")
		} else {
			sess.Expiry = expiry
		}
	}
	return sess, nil
}

// Save overwrites the stored tokens. Empty fields are deleted.
func (s *Store) Save(ctx context.Context, sess Session) error {
	expiry := ""
	if !sess.Expiry.IsZero() {
		expiry = sess.Expiry.UTC().Format(time.RFC3339)
	}
	if err := s.put(ctx, s.layout.AccessToken, sess.AccessToken); err != nil {
		return err
	}
	if err := s.put(ctx, s.layout.RefreshToken, sess.RefreshToken); err != nil {
		return err
	}
	return s.put(ctx, s.layout.Expiry, expiry)
}

// Profile returns the cached profile, or nil when none is stored.
func (s *Store) Profile(ctx context.Context) (*UserProfile, error) {
	raw, err := s.get(ctx, s.layout.Profile)
	if err != nil || raw == "" {
		return nil, err
	}
	var p UserProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.layout.Profile, err)
	}
	return &p, nil
}

// SaveProfile caches p along with the layout's per-field mirrors.
func (s *Store) SaveProfile(ctx context.Context, p UserProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := s.put(ctx, s.layout.Profile, string(raw)); err != nil {
		return err
	}
	for key, value := range s.layout.ProfileMirrors(p) {
		if err := s.put(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// ClearProfile removes the cached profile and its per-field mirrors.
func (s *Store) ClearProfile(ctx context.Context) error {
	keys := s.layout.MirrorKeys()
	if s.layout.Profile != "" {
		keys = append(keys, s.layout.Profile)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("clear profile: %w", err)
	}
	return nil
}

// Clear removes every auth key of the layout.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.layout.Keys()...); err != nil {
		return fmt.Errorf("clear auth state: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	v, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) put(ctx context.Context, key, value string) error {
	if key == "" {
		return nil
	}
	if value == "" {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	}
	if err := s.kv.Set(ctx, key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
