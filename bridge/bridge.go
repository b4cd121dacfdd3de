// Package bridge keeps a mirror key/value store in step with a primary one,
// renaming keys through a set of mappings.
//
// The primary store is the single source of truth. The bridge remembers the
// last value it synced for every mapping, which lets it tell an edit on the
// mirror side from a stale mirror:
//
//   - primary differs from the last synced value: the primary wins and the
//     mirror is rewritten
//   - only the mirror differs: the edit is forwarded to the primary
//   - neither differs: nothing is written
//
// Deletions follow the same rule. Watch events only trigger a reconciliation,
// so a dropped event is repaired by the next poll.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/sider-auth/internal/logging"
	"github.com/jrsteele09/sider-auth/kv"
	"github.com/jrsteele09/sider-auth/session"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultPollInterval = 2 * time.Second

// Mapping pairs a primary key with its mirror key.
type Mapping struct {
	Primary string
	Mirror  string
}

// MappingsFor pairs the token, profile and expiry keys of two layouts.
func MappingsFor(primary, mirror session.Layout) []Mapping {
	var mappings []Mapping
	for _, pair := range [][2]string{
		{primary.AccessToken, mirror.AccessToken},
		{primary.RefreshToken, mirror.RefreshToken},
		{primary.Profile, mirror.Profile},
		{primary.Expiry, mirror.Expiry},
	} {
		if pair[0] != "" && pair[1] != "" {
			mappings = append(mappings, Mapping{Primary: pair[0], Mirror: pair[1]})
		}
	}
	return mappings
}

// DefaultMappings pairs extension storage with the web app's local storage.
func DefaultMappings() []Mapping {
	return MappingsFor(session.ExtensionLayout, session.PageLayout)
}

type entry struct {
	value   string
	present bool
}

func lookup(snapshot map[string]string, key string) entry {
	v, ok := snapshot[key]
	return entry{value: v, present: ok}
}

// Bridge synchronises mapped keys between two stores.
type Bridge struct {
	primary      kv.Store
	mirror       kv.Store
	mappings     []Mapping
	pollInterval time.Duration
	logger       zerolog.Logger
	profile      *session.Layout

	lock   sync.Mutex
	synced map[string]entry // by mirror key
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPollInterval sets how often both stores are reconciled.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithProfileMirrors derives the per-field profile keys of layout on the
// mirror side whenever the profile key of layout is synced.
func WithProfileMirrors(layout session.Layout) Option {
	return func(b *Bridge) {
		b.profile = &layout
	}
}

// New creates a Bridge. At least one mapping is required.
func New(primary, mirror kv.Store, mappings []Mapping, options ...Option) (*Bridge, error) {
	if primary == nil || mirror == nil {
		return nil, fmt.Errorf("[bridge.New] primary and mirror stores are required")
	}
	if len(mappings) == 0 {
		return nil, fmt.Errorf("[bridge.New] at least one mapping is required")
	}
	b := &Bridge{
		primary:      primary,
		mirror:       mirror,
		mappings:     append([]Mapping(nil), mappings...),
		pollInterval: DefaultPollInterval,
		logger:       logging.Component("bridge"),
		synced:       make(map[string]entry),
	}
	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

// Start forgets any previous sync history and copies the primary onto the
// mirror, deleting mirrored keys the primary lacks.
func (b *Bridge) Start(ctx context.Context) error {
	b.lock.Lock()
	b.synced = make(map[string]entry)
	b.lock.Unlock()
	return b.SyncOnce(ctx)
}

// SyncOnce runs a single reconciliation of every mapping.
func (b *Bridge) SyncOnce(ctx context.Context) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	primarySnap, err := b.primary.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot primary: %w", err)
	}
	mirrorSnap, err := b.mirror.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot mirror: %w", err)
	}

	for _, m := range b.mappings {
		if err := b.reconcile(ctx, m, lookup(primarySnap, m.Primary), lookup(mirrorSnap, m.Mirror)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) reconcile(ctx context.Context, m Mapping, p, mir entry) error {
	last, known := b.synced[m.Mirror]

	final := p
	switch {
	case !known || p != last:
		if mir != p {
			if err := b.write(ctx, b.mirror, m.Mirror, p); err != nil {
				return err
			}
			b.logger.Debug().Str("from", m.Primary).Str("to", m.Mirror).Bool("deleted", !p.present).Msg("Primary -> mirror")
		}
	case mir != last:
		if err := b.write(ctx, b.primary, m.Primary, mir); err != nil {
			return err
		}
		b.logger.Debug().Str("from", m.Mirror).Str("to", m.Primary).Bool("deleted", !mir.present).Msg("Mirror -> primary")
		final = mir
	default:
		return nil
	}

	b.synced[m.Mirror] = final
	if b.profile != nil && m.Mirror == b.profile.Profile {
		return b.writeProfileMirrors(ctx, final)
	}
	return nil
}

func (b *Bridge) write(ctx context.Context, store kv.Store, key string, e entry) error {
	if !e.present {
		if err := store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	}
	if err := store.Set(ctx, key, e.value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (b *Bridge) writeProfileMirrors(ctx context.Context, profile entry) error {
	if !profile.present {
		return b.mirror.Delete(ctx, b.profile.MirrorKeys()...)
	}
	var p session.UserProfile
	if err := json.Unmarshal([]byte(profile.value), &p); err != nil {
		b.logger.Warn().Err(err).Msg("Profile is not valid JSON, skipping derived keys")
		return nil
	}
	for key, value := range b.profile.ProfileMirrors(p) {
		if err := b.write(ctx, b.mirror, key, entry{value: value, present: value != ""}); err != nil {
			return err
		}
	}
	return nil
}

// Run starts the bridge and keeps both stores reconciled until ctx is done.
// Stores that implement kv.Watcher trigger an immediate reconciliation on
// change, every store is also polled.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}
	b.logger.Info().Int("mappings", len(b.mappings)).Dur("poll", b.pollInterval).Msg("Bridge started")

	g, ctx := errgroup.WithContext(ctx)
	trigger := make(chan struct{}, 1)

	for name, store := range map[string]kv.Store{"primary": b.primary, "mirror": b.mirror} {
		watcher, ok := store.(kv.Watcher)
		if !ok {
			continue
		}
		changes, err := watcher.Watch(ctx)
		if err != nil {
			b.logger.Warn().Err(err).Str("store", name).Msg("Watch unavailable, relying on polling")
			continue
		}
		g.Go(func() error {
			for change := range changes {
				if !b.isMapped(change.Key) {
					continue
				}
				select {
				case trigger <- struct{}{}:
				default:
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(b.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			case <-trigger:
			}
			if err := b.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				b.logger.Error().Err(err).Msg("Sync failed")
			}
		}
	})

	err := g.Wait()
	b.logger.Info().Msg("Bridge stopped")
	return err
}

func (b *Bridge) isMapped(key string) bool {
	for _, m := range b.mappings {
		if m.Primary == key || m.Mirror == key {
			return true
		}
	}
	return false
}
