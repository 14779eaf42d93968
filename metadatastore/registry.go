package metadatastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// Config provides the configuration values read by the built-in providers.
type Config interface {
	// GetMetadataStoreSystem returns the provider name.
	GetMetadataStoreSystem() string

	// Redis
	GetRedisAddr() string
	GetRedisUsername() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisKeyPrefix() string
	GetRedisTTL() time.Duration

	// SQL
	GetSQLDriver() string
	GetSQLDSN() string
	GetSQLTable() string
	GetSQLAutoMigrate() bool

	// NATS JetStream key/value
	GetNATSURL() string
	GetNATSKVBucket() string
}

// Builder creates a provider from configuration.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Provider, error)

// Registry maps provider names to builders. Provider packages register
// themselves from init.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// DefaultRegistry is the global provider registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a provider builder under name.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the provider selected by cfg.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetMetadataStoreSystem()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown metadata store provider: %q (registered: %v)", name, r.Names())
	}
	return builder(ctx, cfg, logger)
}

// Open builds the configured provider and wraps it in a Store.
func (r *Registry) Open(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*Store, error) {
	provider, err := r.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(provider, logger)
}

// Register adds a provider builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// Build creates a provider using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Provider, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}

// Open creates a Store using the default registry.
func Open(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*Store, error) {
	return DefaultRegistry.Open(ctx, cfg, logger)
}
