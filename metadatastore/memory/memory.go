// Package memory provides an in-process metadata store provider. It is only
// atomic within one process and suits tests and single-instance deployments.
package memory

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/handlerflow/metadatastore"
)

// ProviderName is the name used to register this provider.
const ProviderName = "memory"

func init() {
	metadatastore.Register(ProviderName, Build)
}

// Build creates a new in-memory provider.
func Build(ctx context.Context, cfg metadatastore.Config, logger watermill.LoggerAdapter) (metadatastore.Provider, error) {
	return New(), nil
}

// Provider keeps entries in a sync.Map.
type Provider struct {
	entries sync.Map
}

// New creates an empty provider.
func New() *Provider {
	return &Provider{}
}

func (p *Provider) Get(_ context.Context, key string) (string, bool, error) {
	value, ok := p.entries.Load(key)
	if !ok {
		return "", false, nil
	}
	return value.(string), true, nil
}

func (p *Provider) Put(_ context.Context, key, value string) error {
	p.entries.Store(key, value)
	return nil
}

func (p *Provider) CompareAndSet(_ context.Context, key string, expected *string, value string) (bool, error) {
	if expected == nil {
		_, loaded := p.entries.LoadOrStore(key, value)
		return !loaded, nil
	}
	return p.entries.CompareAndSwap(key, *expected, value), nil
}

func (p *Provider) Remove(_ context.Context, key string) (string, bool, error) {
	value, ok := p.entries.LoadAndDelete(key)
	if !ok {
		return "", false, nil
	}
	return value.(string), true, nil
}

// Len returns the number of stored entries.
func (p *Provider) Len() int {
	n := 0
	p.entries.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

func (p *Provider) Close() error {
	return nil
}
