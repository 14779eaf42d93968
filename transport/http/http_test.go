package http

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/handlerflow/transport"
	"github.com/drblury/handlerflow/transport/transporttest"
)

func TestRegistered(t *testing.T) {
	assert.Equal(t, transport.HTTPCapabilities, transport.GetCapabilities(TransportName))
}

func TestTopicURL(t *testing.T) {
	assert.Equal(t, "http://svc:8080/orders", TopicURL("http://svc:8080/", "/orders"))
	assert.Equal(t, "http://svc:8080/orders", TopicURL("http://svc:8080", "orders"))
	assert.Equal(t, "orders", TopicURL("", "orders"))
}

func TestBuildMarshalsToTopicURL(t *testing.T) {
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() { PublisherFactory, SubscriberFactory = originalPub, originalSub })

	var marshal watermillhttp.MarshalMessageFunc
	PublisherFactory = func(cfg watermillhttp.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		marshal = cfg.MarshalMessageFunc
		return &transporttest.Publisher{}, nil
	}
	SubscriberFactory = func(addr string, _ watermillhttp.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, ":8080", addr)
		return &transporttest.Subscriber{}, nil
	}

	cfg := &transporttest.Config{HTTPServerAddress: ":8080", HTTPPublisherURL: "http://peer:8080/"}
	tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Nil(t, tr.Serve, "only the real subscriber can serve")

	req, err := marshal("orders", message.NewMessage("m-1", []byte("{}")))
	require.NoError(t, err)
	assert.Equal(t, "http://peer:8080/orders", req.URL.String())
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.EqualError(t, err, "http: server address is required")

	originalPub := PublisherFactory
	t.Cleanup(func() { PublisherFactory = originalPub })
	PublisherFactory = func(watermillhttp.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, errors.New("publisher down")
	}
	_, err = Build(context.Background(), &transporttest.Config{HTTPServerAddress: ":8080"}, watermill.NopLogger{})
	assert.EqualError(t, err, "publisher down")
}
