// Package handlerflow runs message handlers on top of Watermill. Each handler
// is wrapped in a handler core that counts invocations, records durations into
// Prometheus or OpenTelemetry and can be reset or reconfigured at runtime.
// Handlers may additionally sit behind an idempotent receiver that admits each
// key once through a concurrent metadata store.
//
// A minimal setup fills Config, creates a Service, registers handlers with
// RegisterJSONHandler or RegisterProtoHandler and calls Start.
//
// # Transports
//
// The transport is selected by Config.PubSubSystem:
//   - channel: in-memory Go channels
//   - kafka: consumer groups over Sarama
//   - rabbitmq: AMQP durable queues
//   - nats: NATS subjects
//   - http: inbound webhooks and outbound POSTs
//   - aws: SNS topics with SQS subscriptions
//
// Further transports register themselves with RegisterTransport.
//
// # Metadata store
//
// The metadata store holds string keys and values and offers get, put,
// put-if-absent, replace and remove. Config.MetadataStore selects memory,
// redis, sql or natskv. Nil keys and values are rejected with ErrKeyNull and
// ErrValueNull before any provider is touched.
//
// # Idempotent receiver
//
// Setting Config.IdempotencyHeader installs a guard in front of every handler.
// The first message carrying a key is admitted; later ones are dropped,
// discarded to a topic, marked or rejected according to
// Config.IdempotencyPolicy.
//
// # Middleware
//
// The default router chain adds correlation ids, message logging, tracing,
// Prometheus router metrics, poison queue forwarding, retries and panic
// recovery. Custom middleware can be added via ServiceDependencies.Middlewares.
//
// # Management API
//
// With Config.ManagementEnabled the Service serves /api/handlers,
// /api/metadata and /api/runtime on Config.ManagementPort.
package handlerflow
