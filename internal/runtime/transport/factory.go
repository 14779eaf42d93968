// Package transport adapts the transport registry to the Service configuration.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/handlerflow/internal/runtime/config"
	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	registry "github.com/drblury/handlerflow/transport"

	_ "github.com/drblury/handlerflow/transport/transports"
)

// Transport is the publisher and subscriber pair a Service routes through.
type Transport = registry.Transport

// Factory abstracts how the Service obtains its transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory builds transports from the default registry, where every
// built-in transport is registered.
func DefaultFactory() Factory {
	return FactoryFunc(func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
		if conf == nil {
			return Transport{}, errspkg.ErrConfigRequired
		}
		return registry.Build(ctx, conf, logger)
	})
}

// Capabilities reports the registered capabilities of the configured transport.
func Capabilities(conf *config.Config) registry.Capabilities {
	if conf == nil {
		return registry.Capabilities{}
	}
	return registry.GetCapabilities(conf.PubSubSystem)
}
