// Package metadatastore defines the concurrent key/value metadata store used for
// idempotent receiver bookkeeping. Every operation is delegated to a Provider
// whose atomic primitives make the store linearizable per key, also when the
// provider is shared by several processes.
package metadatastore

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
)

// Provider is the storage backend behind a Store. Implementations must make
// CompareAndSet and Remove atomic with respect to every other caller of the
// same backend.
type Provider interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put stores value under key unconditionally.
	Put(ctx context.Context, key, value string) error
	// CompareAndSet stores value when the current state matches expected. A nil
	// expected means "key is absent".
	CompareAndSet(ctx context.Context, key string, expected *string, value string) (bool, error)
	// Remove deletes key and returns the value it held.
	Remove(ctx context.Context, key string) (string, bool, error)
	Close() error
}

// Store is the concurrent metadata store. It validates arguments before they
// reach the provider and never retries provider failures.
type Store struct {
	provider Provider
	logger   watermill.LoggerAdapter
}

// New wraps provider. A nil logger discards output.
func New(provider Provider, logger watermill.LoggerAdapter) (*Store, error) {
	if provider == nil {
		return nil, errspkg.ErrProviderRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Store{provider: provider, logger: logger}, nil
}

// Provider returns the backend in use.
func (s *Store) Provider() Provider {
	return s.provider
}

// Get returns the value for key, or found=false when it is absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	value, found, err := s.provider.Get(ctx, key)
	if err != nil {
		return "", false, s.wrap("get", key, err)
	}
	return value, found, nil
}

// Put overwrites the value for key.
func (s *Store) Put(ctx context.Context, key, value string) error {
	if err := s.provider.Put(ctx, key, value); err != nil {
		return s.wrap("put", key, err)
	}
	return nil
}

// PutIfAbsent stores value only when key is absent. It returns the value that
// was already present, if any. Exactly one of several concurrent callers on a
// fresh key stores its value; the others observe the winner's value.
func (s *Store) PutIfAbsent(ctx context.Context, key, value string) (string, bool, error) {
	for {
		stored, err := s.provider.CompareAndSet(ctx, key, nil, value)
		if err != nil {
			return "", false, s.wrap("putIfAbsent", key, err)
		}
		if stored {
			return "", false, nil
		}

		previous, found, err := s.provider.Get(ctx, key)
		if err != nil {
			return "", false, s.wrap("putIfAbsent", key, err)
		}
		if found {
			return previous, true, nil
		}

		// The winner was removed between the two calls; try again.
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		s.logger.Trace("Retrying putIfAbsent after concurrent removal", watermill.LogFields{"key": key})
	}
}

// Replace swaps oldValue for newValue when key currently holds oldValue.
func (s *Store) Replace(ctx context.Context, key, oldValue, newValue string) (bool, error) {
	replaced, err := s.provider.CompareAndSet(ctx, key, &oldValue, newValue)
	if err != nil {
		return false, s.wrap("replace", key, err)
	}
	return replaced, nil
}

// Remove deletes key and returns the value it held, or found=false when absent.
func (s *Store) Remove(ctx context.Context, key string) (string, bool, error) {
	previous, found, err := s.provider.Remove(ctx, key)
	if err != nil {
		return "", false, s.wrap("remove", key, err)
	}
	return previous, found, nil
}

// GetNullable is Get for callers whose key may be missing, such as HTTP query
// parameters or message headers.
func (s *Store) GetNullable(ctx context.Context, key *string) (string, bool, error) {
	if key == nil {
		return "", false, errspkg.ErrKeyNull
	}
	return s.Get(ctx, *key)
}

// PutNullable is Put for callers whose key or value may be missing.
func (s *Store) PutNullable(ctx context.Context, key, value *string) error {
	if err := checkNullable(key, value); err != nil {
		return err
	}
	return s.Put(ctx, *key, *value)
}

// PutIfAbsentNullable is PutIfAbsent for callers whose key or value may be missing.
func (s *Store) PutIfAbsentNullable(ctx context.Context, key, value *string) (string, bool, error) {
	if err := checkNullable(key, value); err != nil {
		return "", false, err
	}
	return s.PutIfAbsent(ctx, *key, *value)
}

// RemoveNullable is Remove for callers whose key may be missing.
func (s *Store) RemoveNullable(ctx context.Context, key *string) (string, bool, error) {
	if key == nil {
		return "", false, errspkg.ErrKeyNull
	}
	return s.Remove(ctx, *key)
}

// Close releases the provider.
func (s *Store) Close() error {
	return s.provider.Close()
}

func checkNullable(key, value *string) error {
	if key == nil {
		return errspkg.ErrKeyNull
	}
	if value == nil {
		return errspkg.ErrValueNull
	}
	return nil
}

func (s *Store) wrap(op, key string, err error) error {
	s.logger.Error("Metadata store operation failed", err, watermill.LogFields{"operation": op, "key": key})
	return fmt.Errorf("metadatastore: %s %q: %w", op, key, err)
}
