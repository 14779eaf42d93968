/*
Package runtime hosts the handlerflow service: a Watermill router whose
handlers run inside handler cores that count, time and optionally guard every
message with an idempotent receiver backed by the metadata store.

# Service

NewService builds the transport selected by Config.PubSubSystem, opens the
metadata store selected by Config.MetadataStore and installs the default
middleware chain:

	correlation id -> log messages -> tracer -> metrics -> poison queue -> retry -> recoverer

Start mounts the management API and the metrics endpoint, then runs the router
until the context is cancelled. Close releases the router, the handler cores,
the store when the Service opened it and finally the transport.

# Handlers

RegisterJSONHandler, RegisterProtoHandler and RegisterMessageHandler add a
handler under a unique name. Each one is wrapped as

	router middlewares -> handler core -> idempotent receiver -> typed logic

The core records handle counts, errors and durations into the configured
metrics captor and can be reset or reconfigured at runtime. The idempotent
receiver is only installed when Config.IdempotencyHeader names the header that
carries the key.

# Management API

	GET    /api/handlers
	POST   /api/handlers/reset?name=
	PUT    /api/handlers/settings?name=
	GET    /api/metadata?key=
	PUT    /api/metadata?key=
	DELETE /api/metadata?key=
	POST   /api/metadata/put-if-absent?key=
	GET    /api/runtime

# Sub-packages

  - config/: service configuration and validation
  - errors/: sentinel errors and error types
  - handler/: the handler core and job hooks
  - handlers/: typed JSON and proto handler builders
  - idempotency/: the idempotent receiver guard
  - ids/: ULID generation
  - jsoncodec/: JSON encoding
  - logging/: logger interface and adapters
  - metadata/: message metadata helpers
  - metrics/: metric names and captors
  - transport/: transport factory

# Example

	cfg := &handlerflow.Config{
		PubSubSystem:      "kafka",
		KafkaBrokers:      []string{"localhost:9092"},
		IdempotencyHeader: "order_id",
		MetadataStore:     "redis",
		RedisAddr:         "localhost:6379",
	}

	svc := handlerflow.NewService(cfg, logger, ctx, handlerflow.ServiceDependencies{})

	err := handlerflow.RegisterJSONHandler(svc, handlerflow.JSONHandlerRegistration[*OrderPlaced, *OrderShipped]{
		Name:         "ship-orders",
		ConsumeQueue: "orders.placed",
		PublishQueue: "orders.shipped",
		Handler:      shipOrder,
	})

	err = svc.Start(ctx)
*/
package runtime
