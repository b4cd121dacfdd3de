// Package pinned stores the user's pinned quick actions as a JSON array under
// a single key.
package pinned

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/jrsteele09/sider-auth/kv"
	"github.com/samber/lo"
)

const Key = "pinnedActions"

var ErrEmptyAction = errors.New("action identifier is empty")

// DefaultActions are pinned on first use and restored by Reset.
func DefaultActions() []string {
	return []string{"explain", "translate", "summarize"}
}

type Actions struct {
	store kv.Store
	lock  sync.Mutex
}

func New(store kv.Store) *Actions {
	return &Actions{store: store}
}

// List returns the pinned actions in pin order. The defaults are returned
// when nothing has been stored yet.
func (a *Actions) List(ctx context.Context) ([]string, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.load(ctx)
}

func (a *Actions) IsPinned(ctx context.Context, action string) (bool, error) {
	actions, err := a.List(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(actions, strings.TrimSpace(action)), nil
}

// Pin appends action unless it is already pinned.
func (a *Actions) Pin(ctx context.Context, action string) ([]string, error) {
	return a.update(ctx, action, func(actions []string, action string) []string {
		return lo.Uniq(append(actions, action))
	})
}

func (a *Actions) Unpin(ctx context.Context, action string) ([]string, error) {
	return a.update(ctx, action, func(actions []string, action string) []string {
		return lo.Without(actions, action)
	})
}

// Toggle pins action when it is not pinned and unpins it otherwise.
func (a *Actions) Toggle(ctx context.Context, action string) ([]string, error) {
	return a.update(ctx, action, func(actions []string, action string) []string {
		if slices.Contains(actions, action) {
			return lo.Without(actions, action)
		}
		return append(actions, action)
	})
}

// Reset restores the default actions.
func (a *Actions) Reset(ctx context.Context) ([]string, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	defaults := DefaultActions()
	if err := a.save(ctx, defaults); err != nil {
		return nil, err
	}
	return defaults, nil
}

func (a *Actions) update(ctx context.Context, action string, apply func([]string, string) []string) ([]string, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, ErrEmptyAction
	}
	a.lock.Lock()
	defer a.lock.Unlock()

	actions, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	next := apply(actions, action)
	if err := a.save(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (a *Actions) load(ctx context.Context) ([]string, error) {
	raw, err := a.store.Get(ctx, Key)
	if errors.Is(err, kv.ErrNotFound) {
		return DefaultActions(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", Key, err)
	}
	var actions []string
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil, fmt.Errorf("decode %s: %w", Key, err)
	}
	actions = lo.Filter(actions, func(s string, _ int) bool { return strings.TrimSpace(s) != "" })
	return lo.Uniq(actions), nil
}

func (a *Actions) save(ctx context.Context, actions []string) error {
	if actions == nil {
		actions = []string{}
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode %s: %w", Key, err)
	}
	if err := a.store.Set(ctx, Key, string(raw)); err != nil {
		return fmt.Errorf("set %s: %w", Key, err)
	}
	return nil
}
