package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	handlerspkg "github.com/drblury/handlerflow/internal/runtime/handlers"
	idspkg "github.com/drblury/handlerflow/internal/runtime/ids"
	"github.com/drblury/handlerflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/handlerflow/internal/runtime/metadata"
)

// Producer emits events onto the configured transport.
type Producer interface {
	PublishProto(ctx context.Context, topic string, event proto.Message, metadata metadatapkg.Metadata) error
	PublishJSON(ctx context.Context, topic string, event any, metadata metadatapkg.Metadata) error
}

var _ Producer = (*Service)(nil)

// NewMessageFromProto converts event into a Watermill message carrying the
// event schema header.
func NewMessageFromProto(event proto.Message, metadata metadatapkg.Metadata) (*message.Message, error) {
	return handlerspkg.NewMessageFromProto(event, metadata)
}

// PublishProto marshals the proto payload and publishes it to topic.
func PublishProto(ctx context.Context, publisher message.Publisher, topic string, event proto.Message, metadata metadatapkg.Metadata) error {
	msg, err := NewMessageFromProto(event, metadata)
	if err != nil {
		return err
	}
	return publish(ctx, publisher, topic, msg)
}

// PublishJSON marshals event as JSON and publishes it to topic.
func PublishJSON(ctx context.Context, publisher message.Publisher, topic string, event any, metadata metadatapkg.Metadata) error {
	if event == nil {
		return errspkg.ErrEventPayloadRequired
	}
	payload, err := jsoncodec.Marshal(event)
	if err != nil {
		return err
	}
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(metadata)
	msg.Metadata.Set(metadatapkg.KeyEventSchema, fmt.Sprintf("%T", event))
	return publish(ctx, publisher, topic, msg)
}

func publish(ctx context.Context, publisher message.Publisher, topic string, msg *message.Message) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

// PublishProto emits the event using the Service publisher so HTTP handlers can
// create events without touching the Watermill APIs directly.
func (s *Service) PublishProto(ctx context.Context, topic string, event proto.Message, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	return PublishProto(ctx, s.publisher, topic, event, metadata)
}

// PublishJSON emits a JSON event using the Service publisher.
func (s *Service) PublishJSON(ctx context.Context, topic string, event any, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	return PublishJSON(ctx, s.publisher, topic, event, metadata)
}
