// Package http provides the HTTP transport: messages are POSTed to
// HTTPPublisherURL+topic and received on HTTPServerAddress.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/handlerflow/transport"
)

// TransportName is the PubSubSystem value of this transport.
const TransportName = "http"

// PublisherFactory creates the publisher; tests may replace it.
var PublisherFactory = func(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(cfg, logger)
}

// SubscriberFactory creates the subscriber; tests may replace it.
var SubscriberFactory = func(addr string, cfg http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates an HTTP transport. The subscriber's server is started through
// Transport.Serve.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	if serverAddr == "" {
		return transport.Transport{}, errors.New("http: server address is required")
	}
	baseURL := cfg.GetHTTPPublisherURL()

	publisher, err := PublisherFactory(http.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			return http.DefaultMarshalMessageFunc(TopicURL(baseURL, topic), msg)
		},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(serverAddr, http.SubscriberConfig{
		UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	tr := transport.Transport{Publisher: publisher, Subscriber: subscriber}
	if server, ok := subscriber.(*http.Subscriber); ok {
		tr.Serve = server.StartHTTPServer
	}
	return tr, nil
}

// TopicURL joins the publisher base URL and a topic with exactly one slash.
func TopicURL(baseURL, topic string) string {
	if baseURL == "" {
		return topic
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(topic, "/")
}
