package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/handlerflow/internal/runtime/config"
	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	handlerspkg "github.com/drblury/handlerflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/handlerflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/handlerflow/internal/runtime/metadata"
	transportpkg "github.com/drblury/handlerflow/internal/runtime/transport"
	"github.com/drblury/handlerflow/metadatastore"
	"github.com/drblury/handlerflow/metadatastore/memory"
	"github.com/drblury/handlerflow/transport/transporttest"
)

func TestTryNewServiceValidatesInputs(t *testing.T) {
	log := loggingpkg.NewNopServiceLogger()

	_, err := TryNewService(nil, log, context.Background(), ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = TryNewService(&configpkg.Config{PubSubSystem: "channel"}, nil, context.Background(), ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	_, err = TryNewService(&configpkg.Config{PubSubSystem: "kafka"}, log, context.Background(), ServiceDependencies{})
	var invalid errspkg.ConfigValidationError
	assert.ErrorAs(t, err, &invalid)
}

func TestTryNewServiceTransportFailure(t *testing.T) {
	boom := errors.New("broker down")
	factory := transportpkg.FactoryFunc(func(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
		return transportpkg.Transport{}, boom
	})

	_, err := TryNewService(&configpkg.Config{PubSubSystem: "custom"}, loggingpkg.NewNopServiceLogger(), context.Background(),
		ServiceDependencies{TransportFactory: factory})
	assert.ErrorIs(t, err, boom)
}

func TestNewServicePanicsOnError(t *testing.T) {
	assert.Panics(t, func() {
		NewService(nil, loggingpkg.NewNopServiceLogger(), context.Background(), ServiceDependencies{})
	})
}

func TestServiceOpensConfiguredStore(t *testing.T) {
	svc := newTestService(t, &configpkg.Config{}, ServiceDependencies{})
	require.NotNil(t, svc.Store())
	assert.True(t, svc.ownsStore)
	_, ok := svc.Store().Provider().(*memory.Provider)
	assert.True(t, ok)
}

func TestServiceUsesInjectedStore(t *testing.T) {
	store, err := metadatastore.New(memory.New(), nil)
	require.NoError(t, err)

	svc := newTestService(t, &configpkg.Config{}, ServiceDependencies{MetadataStore: store})
	assert.Same(t, store, svc.Store())
	assert.False(t, svc.ownsStore)
}

func TestServiceCloseIsIdempotent(t *testing.T) {
	pub := &transporttest.Publisher{}
	svc, err := TryNewService(&configpkg.Config{PubSubSystem: "fake"}, loggingpkg.NewNopServiceLogger(), context.Background(),
		ServiceDependencies{TransportFactory: fakeTransport(pub)})
	require.NoError(t, err)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
	assert.Equal(t, 1, pub.Closed)
}

func TestCloseWithoutStartReturnsPromptly(t *testing.T) {
	svc, err := TryNewService(&configpkg.Config{PubSubSystem: "channel"}, loggingpkg.NewNopServiceLogger(), context.Background(), ServiceDependencies{})
	require.NoError(t, err)
	require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{
		Name:         "idle",
		ConsumeQueue: "in",
		Handler:      func(*message.Message) ([]*message.Message, error) { return nil, nil },
	}))

	started := time.Now()
	require.NoError(t, svc.Close())
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestRegisterMessageHandlerValidation(t *testing.T) {
	svc := newTestService(t, &configpkg.Config{}, ServiceDependencies{})
	noop := func(*message.Message) ([]*message.Message, error) { return nil, nil }

	assert.ErrorIs(t, RegisterMessageHandler(nil, MessageHandlerRegistration{}), errspkg.ErrServiceRequired)
	assert.ErrorIs(t, RegisterMessageHandler(svc, MessageHandlerRegistration{Name: "a", ConsumeQueue: "q"}), errspkg.ErrHandlerRequired)
	assert.ErrorIs(t, RegisterMessageHandler(svc, MessageHandlerRegistration{Name: "a", Handler: noop}), errspkg.ErrConsumeQueueRequired)
	assert.ErrorIs(t, RegisterMessageHandler(svc, MessageHandlerRegistration{ConsumeQueue: "q", Handler: noop}), errspkg.ErrHandlerNameRequired)

	require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{Name: "a", ConsumeQueue: "q", Handler: noop}))
	err := RegisterMessageHandler(svc, MessageHandlerRegistration{Name: "a", ConsumeQueue: "other", Handler: noop})
	assert.ErrorIs(t, err, errspkg.ErrHandlerNameTaken)
}

func TestHandlersAreListedInRegistrationOrder(t *testing.T) {
	svc := newTestService(t, &configpkg.Config{IdempotencyHeader: "order_id"}, ServiceDependencies{})
	noop := func(*message.Message) ([]*message.Message, error) { return nil, nil }

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{
			Name:         name,
			ConsumeQueue: name + ".in",
			PublishQueue: name + ".out",
			Handler:      noop,
		}))
	}

	infos := svc.Handlers()
	require.Len(t, infos, 3)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, []string{infos[0].Name, infos[1].Name, infos[2].Name})
	assert.Equal(t, "alpha.in", infos[1].ConsumeQueue)
	assert.Equal(t, "alpha.out", infos[1].PublishQueue)
	assert.Equal(t, "alpha.in", infos[1].ManagedName)
	assert.Equal(t, "channel", infos[1].ManagedType)
	assert.True(t, infos[1].Idempotent)

	core, ok := svc.Handler("mid")
	require.True(t, ok)
	assert.Equal(t, 2, core.Order())
	_, ok = svc.Handler("missing")
	assert.False(t, ok)
}

func TestCoreSettingsFollowConfig(t *testing.T) {
	svc := newTestService(t, &configpkg.Config{HandlerStatsEnabled: true, HandlerLoggingEnabled: true}, ServiceDependencies{})
	require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{
		Name:         "stats",
		ConsumeQueue: "in",
		Handler:      func(*message.Message) ([]*message.Message, error) { return nil, nil },
	}))

	core, ok := svc.Handler("stats")
	require.True(t, ok)
	settings := core.Settings()
	assert.True(t, settings.StatsEnabled)
	assert.True(t, settings.CountsEnabled)
	assert.True(t, settings.LoggingEnabled)
	assert.False(t, settings.TimersEnabled, "no captor without metrics")
}

func TestJSONHandlerEndToEnd(t *testing.T) {
	svc := newTestService(t, &configpkg.Config{IdempotencyHeader: "order_id"}, ServiceDependencies{})

	var calls atomic.Int32
	require.NoError(t, RegisterJSONHandler(svc, handlerspkg.JSONHandlerRegistration[*order, *shipment]{
		Name:         "ship-orders",
		ConsumeQueue: "orders",
		PublishQueue: "shipments",
		Handler: func(ctx context.Context, evt handlerspkg.JSONMessageContext[*order]) ([]handlerspkg.JSONMessageOutput[*shipment], error) {
			calls.Add(1)
			if err := evt.Store.Put(ctx, "last-order", evt.Payload.ID); err != nil {
				return nil, err
			}
			return []handlerspkg.JSONMessageOutput[*shipment]{{Message: &shipment{OrderID: evt.Payload.ID}}}, nil
		},
	}))

	shipments := subscribe(t, svc, "shipments")
	runService(t, svc)

	require.NoError(t, svc.publisher.Publish("orders", newJSONMessage(t, `{"id":"42"}`, "order_id", "42")))
	out := receive(t, shipments)
	assert.JSONEq(t, `{"order_id":"42"}`, string(out.Payload))
	assert.NotEmpty(t, out.Metadata.Get(metadatapkg.KeyCorrelationID))

	require.NoError(t, svc.publisher.Publish("orders", newJSONMessage(t, `{"id":"42"}`, "order_id", "42")))
	require.Eventually(t, func() bool {
		return svc.Handlers()[0].Metrics.HandleCount == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "duplicate is dropped before the logic")

	value, found, err := svc.Store().Get(context.Background(), "last-order")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "42", value)

	_, found, err = svc.Store().Get(context.Background(), "ship-orders:42")
	require.NoError(t, err)
	assert.True(t, found, "idempotency key lives in the shared store")
}

func TestUnprocessableMessageGoesToPoisonQueue(t *testing.T) {
	svc := newTestService(t, &configpkg.Config{PoisonQueue: "poison"}, ServiceDependencies{})

	require.NoError(t, RegisterJSONHandler(svc, handlerspkg.JSONHandlerRegistration[*order, *shipment]{
		Name:         "ship-orders",
		ConsumeQueue: "orders",
		Handler: func(context.Context, handlerspkg.JSONMessageContext[*order]) ([]handlerspkg.JSONMessageOutput[*shipment], error) {
			return nil, nil
		},
	}))

	poison := subscribe(t, svc, "poison")
	runService(t, svc)

	require.NoError(t, svc.publisher.Publish("orders", newJSONMessage(t, "{broken")))
	msg := receive(t, poison)
	assert.Equal(t, "{broken", string(msg.Payload))

	require.Eventually(t, func() bool {
		return svc.Handlers()[0].Metrics.ErrorCount == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIdempotencyRejectPolicy(t *testing.T) {
	svc := newTestService(t, &configpkg.Config{IdempotencyHeader: "id", IdempotencyPolicy: "reject"}, ServiceDependencies{})
	require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{
		Name:         "reject",
		ConsumeQueue: "in",
		Handler:      func(*message.Message) ([]*message.Message, error) { return nil, nil },
	}))

	core, ok := svc.Handler("reject")
	require.True(t, ok)

	first := newJSONMessage(t, "{}", "id", "k")
	_, err := core.Handle(first)
	require.NoError(t, err)

	_, err = core.Handle(newJSONMessage(t, "{}", "id", "k"))
	var duplicate *errspkg.DuplicateMessageError
	require.ErrorAs(t, err, &duplicate)
	assert.Equal(t, "reject:k", duplicate.Key)

	_, err = core.Handle(newJSONMessage(t, "{}"))
	assert.ErrorIs(t, err, errspkg.ErrKeyNull)
	assert.EqualError(t, errors.Unwrap(err), "'key' must not be null.")
}

func TestIdempotentHandlerSucceedsOnRetry(t *testing.T) {
	svc := newTestService(t, &configpkg.Config{IdempotencyHeader: "id"}, ServiceDependencies{})
	var calls atomic.Int32
	require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{
		Name:         "flaky",
		ConsumeQueue: "in",
		Handler: func(*message.Message) ([]*message.Message, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("connection reset")
			}
			return nil, nil
		},
	}))

	core, ok := svc.Handler("flaky")
	require.True(t, ok)
	retried := retryMiddleware(RetryMiddlewareConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}, nil)(core.Handle)

	_, err := retried(newJSONMessage(t, "{}", "id", "k"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	_, found, err := svc.Store().Get(context.Background(), "flaky:k")
	require.NoError(t, err)
	assert.True(t, found, "key stays admitted after the successful attempt")

	_, err = retried(newJSONMessage(t, "{}", "id", "k"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "redelivery is dropped")
}

func TestIdempotentHandlerKeepsKeyOnPermanentFailure(t *testing.T) {
	svc := newTestService(t, &configpkg.Config{IdempotencyHeader: "id"}, ServiceDependencies{})
	require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{
		Name:         "strict",
		ConsumeQueue: "in",
		Handler: func(*message.Message) ([]*message.Message, error) {
			return nil, &errspkg.UnprocessableEventError{}
		},
	}))

	core, _ := svc.Handler("strict")
	_, err := core.Handle(newJSONMessage(t, "{}", "id", "k"))
	require.Error(t, err)

	_, found, err := svc.Store().Get(context.Background(), "strict:k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestServiceHooksRunInsideCores(t *testing.T) {
	var started, failed atomic.Int32
	svc := newTestService(t, &configpkg.Config{}, ServiceDependencies{Hooks: JobHooks{
		OnJobStart: func(JobContext) { started.Add(1) },
		OnJobError: func(JobContext, error) { failed.Add(1) },
	}})
	boom := errors.New("boom")
	require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{
		Name:         "failing",
		ConsumeQueue: "in",
		Handler:      func(*message.Message) ([]*message.Message, error) { return nil, boom },
	}))

	core, _ := svc.Handler("failing")
	_, err := core.Handle(newJSONMessage(t, "{}"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(1), failed.Load())
}
