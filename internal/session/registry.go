package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNoSession is returned by Lookup when no live connection is registered
// for an identity.
var ErrNoSession = errors.New("session: no session registered")

// Store is the shared key/value contract behind the registry. Entries expire
// after a TTL so the registry self-heals when a process dies without calling
// Remove.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Locator identifies the exact live connection serving an identity: the
// process instance that owns the socket and the connection id within it.
type Locator struct {
	InstanceID   string
	ConnectionID string
}

func (l Locator) Encode() string {
	return l.InstanceID + "/" + l.ConnectionID
}

func ParseLocator(s string) (Locator, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Locator{}, fmt.Errorf("session: malformed locator %q", s)
	}
	return Locator{InstanceID: parts[0], ConnectionID: parts[1]}, nil
}

// VisitorIdentity is the routing key for a visitor's live connection.
func VisitorIdentity(visitorUID string) string {
	return "visitor:" + visitorUID
}

// ProjectIdentity is the routing key for a project's agent inbox connection.
// Visitor-originated messages are routed here.
func ProjectIdentity(projectID string) string {
	return "project:" + projectID
}

type Registry struct {
	store Store
	ttl   time.Duration
}

func NewRegistry(store Store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Registry{store: store, ttl: ttl}
}

// Register upserts the locator for an identity. Last connect wins: a
// reconnect race simply leaves a stale locator whose push later no-ops.
func (r *Registry) Register(ctx context.Context, identity string, locator Locator) error {
	if identity == "" {
		return errors.New("session: identity required")
	}
	if locator.InstanceID == "" || locator.ConnectionID == "" {
		return errors.New("session: locator requires instance and connection id")
	}
	return r.store.Set(ctx, sessionKey(identity), locator.Encode(), r.ttl)
}

func (r *Registry) Lookup(ctx context.Context, identity string) (Locator, error) {
	val, err := r.store.Get(ctx, sessionKey(identity))
	if err != nil {
		return Locator{}, err
	}
	return ParseLocator(val)
}

// Remove is idempotent; removing an absent session is not an error.
func (r *Registry) Remove(ctx context.Context, identity string) error {
	return r.store.Del(ctx, sessionKey(identity))
}

// Touch refreshes the TTL on connection activity.
func (r *Registry) Touch(ctx context.Context, identity string) error {
	return r.store.Expire(ctx, sessionKey(identity), r.ttl)
}

func sessionKey(identity string) string {
	return "session:" + identity
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}
