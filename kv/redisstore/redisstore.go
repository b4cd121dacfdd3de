// Package redisstore keeps a kv.Store in a Redis hash and publishes every
// mutation so other processes can Watch it.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/sider-auth/kv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ kv.Store = (*Store)(nil)
var _ kv.Watcher = (*Store)(nil)

// Options holds Redis connection settings
type Options struct {
	Addr        string        // Redis server address
	Password    string        // Redis password
	DB          int           // Redis database number
	Prefix      string        // Key prefix for namespacing
	DialTimeout time.Duration // Connection timeout
}

// DefaultOptions returns default Redis settings
func DefaultOptions() Options {
	return Options{
		Addr:        "localhost:6379",
		Prefix:      "sider:",
		DialTimeout: 5 * time.Second,
	}
}

// OptionsFromURL parses redis://[:password@]host:port/db into Options.
func OptionsFromURL(rawURL string) (Options, error) {
	parsed, err := redis.ParseURL(rawURL)
	if err != nil {
		return Options{}, fmt.Errorf("parse redis url: %w", err)
	}
	opts := DefaultOptions()
	opts.Addr = parsed.Addr
	opts.Password = parsed.Password
	opts.DB = parsed.DB
	return opts, nil
}

type Store struct {
	client  *redis.Client
	hash    string
	channel string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	log.Debug().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis store")
	return NewFromClient(client, opts.Prefix), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, prefix string) *Store {
	return &Store{
		client:  client,
		hash:    prefix + "kv",
		channel: prefix + "kv:changes",
	}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.HGet(ctx, s.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", kv.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("hget %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	old, err := s.Get(ctx, key)
	existed := err == nil
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	if existed && old == value {
		return nil
	}
	if err := s.client.HSet(ctx, s.hash, key, value).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	s.publish(ctx, kv.Change{Key: key, OldValue: old, NewValue: value})
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		old, err := s.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := s.client.HDel(ctx, s.hash, key).Err(); err != nil {
			return fmt.Errorf("hdel %s: %w", key, err)
		}
		s.publish(ctx, kv.Change{Key: key, OldValue: old, Deleted: true})
	}
	return nil
}

func (s *Store) Snapshot(ctx context.Context) (map[string]string, error) {
	data, err := s.client.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	return data, nil
}

func (s *Store) Watch(ctx context.Context) (<-chan kv.Change, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	out := make(chan kv.Change, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change kv.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					log.Warn().Err(err).Str("channel", s.channel).Msg("Dropping malformed change event")
					continue
				}
				select {
				case out <- change:
				default:
				}
			}
		}
	}()
	return out, nil
}

// publish is best effort, watchers re-read the hash on every event anyway.
func (s *Store) publish(ctx context.Context, change kv.Change) {
	payload, err := json.Marshal(change)
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("key", change.Key).Msg("Failed to publish change event")
	}
}
