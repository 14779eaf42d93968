package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/handlerflow/internal/runtime/config"
	loggingpkg "github.com/drblury/handlerflow/internal/runtime/logging"
	transportpkg "github.com/drblury/handlerflow/internal/runtime/transport"
	"github.com/drblury/handlerflow/transport/transporttest"
)

type order struct {
	ID string `json:"id"`
}

type shipment struct {
	OrderID string `json:"order_id"`
}

type testValidator struct{ err error }

func (v *testValidator) Validate(any) error { return v.err }

func newTestService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) *Service {
	t.Helper()
	if conf.PubSubSystem == "" {
		conf.PubSubSystem = "channel"
	}
	svc, err := TryNewService(conf, loggingpkg.NewNopServiceLogger(), context.Background(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// fakeTransport serves a recording publisher and a subscriber with no traffic.
func fakeTransport(pub *transporttest.Publisher) transportpkg.Factory {
	return transportpkg.FactoryFunc(func(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
		return transportpkg.Transport{Publisher: pub, Subscriber: &transporttest.Subscriber{}}, nil
	})
}

// runService starts svc and waits until its router is running.
func runService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-svc.router.Running():
	case err := <-done:
		cancel()
		t.Fatalf("service stopped before running: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("router did not start")
	}

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func subscribe(t *testing.T, svc *Service, topic string) <-chan *message.Message {
	t.Helper()
	messages, err := svc.subscriber.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	return messages
}

func receive(t *testing.T, messages <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func newJSONMessage(t *testing.T, payload string, pairs ...string) *message.Message {
	t.Helper()
	msg := message.NewMessage(watermill.NewULID(), []byte(payload))
	for i := 0; i+1 < len(pairs); i += 2 {
		msg.Metadata.Set(pairs[i], pairs[i+1])
	}
	return msg
}
