// Package redis provides a metadata store provider backed by Redis. Compare and
// set runs as a server-side script so it stays atomic across processes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	goredis "github.com/redis/go-redis/v9"

	"github.com/drblury/handlerflow/metadatastore"
)

const (
	// ProviderName is the name used to register this provider.
	ProviderName = "redis"

	// DefaultKeyPrefix namespaces metadata keys inside a shared Redis database.
	DefaultKeyPrefix = "handlerflow:metadata:"
)

var compareAndSetScript = goredis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false or current ~= ARGV[1] then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

func init() {
	metadatastore.Register(ProviderName, Build)
}

// Build connects to the Redis server named in cfg.
func Build(ctx context.Context, cfg metadatastore.Config, logger watermill.LoggerAdapter) (metadatastore.Provider, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.GetRedisAddr(),
		Username: cfg.GetRedisUsername(),
		Password: cfg.GetRedisPassword(),
		DB:       cfg.GetRedisDB(),
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.GetRedisAddr(), err)
	}

	logger.Info("Connected metadata store", watermill.LogFields{
		"provider": ProviderName,
		"addr":     cfg.GetRedisAddr(),
		"db":       cfg.GetRedisDB(),
	})

	p := New(client, WithKeyPrefix(cfg.GetRedisKeyPrefix()), WithTTL(cfg.GetRedisTTL()))
	p.ownsClient = true
	return p, nil
}

// Option configures a Provider.
type Option func(*Provider)

// WithKeyPrefix sets the prefix prepended to every key. An empty prefix keeps
// DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(p *Provider) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithTTL expires entries after ttl. Zero keeps entries until removed.
func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// Provider stores metadata as plain Redis strings.
type Provider struct {
	client     goredis.UniversalClient
	prefix     string
	ttl        time.Duration
	ownsClient bool
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client goredis.UniversalClient, opts ...Option) *Provider {
	p := &Provider{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) key(key string) string {
	return p.prefix + key
}

func (p *Provider) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := p.client.Get(ctx, p.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (p *Provider) Put(ctx context.Context, key, value string) error {
	return p.client.Set(ctx, p.key(key), value, p.ttl).Err()
}

func (p *Provider) CompareAndSet(ctx context.Context, key string, expected *string, value string) (bool, error) {
	if expected == nil {
		return p.client.SetNX(ctx, p.key(key), value, p.ttl).Result()
	}

	swapped, err := compareAndSetScript.Run(ctx, p.client, []string{p.key(key)}, *expected, value, p.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return swapped == 1, nil
}

func (p *Provider) Remove(ctx context.Context, key string) (string, bool, error) {
	value, err := p.client.GetDel(ctx, p.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Close closes the client when the provider created it.
func (p *Provider) Close() error {
	if !p.ownsClient {
		return nil
	}
	return p.client.Close()
}
