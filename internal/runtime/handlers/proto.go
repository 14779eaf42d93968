package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	idspkg "github.com/drblury/handlerflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/handlerflow/internal/runtime/metadata"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{EmitUnpopulated: true}

var protoJSONUnmarshalOptions = protojson.UnmarshalOptions{DiscardUnknown: true}

// ProtoHandlerRegistration configures a typed protobuf handler. Payloads travel
// as protojson.
type ProtoHandlerRegistration[T proto.Message] struct {
	Name             string
	ConsumeQueue     string
	PublishQueue     string
	Handler          ProtoMessageHandler[T]
	ValidateOutgoing bool
	ShouldTrack      bool
}

// ProtoMessageContext exposes the decoded payload of a protobuf message.
type ProtoMessageContext[T proto.Message] struct {
	MessageContextBase
	Payload T
}

// ProtoMessageOutput is an event emitted by a protobuf handler. Nil Metadata
// reuses the incoming headers.
type ProtoMessageOutput struct {
	Message  proto.Message
	Metadata metadatapkg.Metadata
}

// ProtoMessageHandler processes a typed protobuf payload and returns the events to emit.
type ProtoMessageHandler[T proto.Message] func(ctx context.Context, event ProtoMessageContext[T]) ([]ProtoMessageOutput, error)

// NewMessageFromProto marshals event into a Watermill message carrying the
// event schema header.
func NewMessageFromProto(event proto.Message, md metadatapkg.Metadata) (*message.Message, error) {
	if isNilProto(event) {
		return nil, errspkg.ErrEventPayloadRequired
	}
	payload, err := protoJSONMarshalOptions.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", event, err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	msg.Metadata.Set(metadatapkg.KeyEventSchema, fmt.Sprintf("%T", event))
	return msg, nil
}

// BuildProtoHandler converts a typed protobuf handler into a Watermill handler.
func BuildProtoHandler[T proto.Message](handler ProtoMessageHandler[T], deps Deps) (message.HandlerFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	var zero T
	prototype, err := EnsureProtoPrototype(zero)
	if err != nil {
		return nil, err
	}

	return func(msg *message.Message) ([]*message.Message, error) {
		payload := prototype.ProtoReflect().New().Interface().(T)
		if err := protoJSONUnmarshalOptions.Unmarshal(msg.Payload, payload); err != nil {
			return nil, errspkg.NewUnprocessableEventError(string(msg.Payload), fmt.Errorf("decode %T: %w", prototype, err))
		}
		if err := deps.validateIncoming(msg.Payload, payload); err != nil {
			return nil, err
		}

		event := ProtoMessageContext[T]{MessageContextBase: deps.base(msg), Payload: payload}
		outputs, err := handler(msg.Context(), event)
		if err != nil {
			return nil, err
		}
		return convertProtoOutputs(outputs, event.Metadata, deps)
	}, nil
}

func convertProtoOutputs(outputs []ProtoMessageOutput, incoming metadatapkg.Metadata, deps Deps) ([]*message.Message, error) {
	if len(outputs) == 0 {
		return nil, nil
	}

	result := make([]*message.Message, 0, len(outputs))
	for _, out := range outputs {
		if isNilProto(out.Message) {
			return nil, errors.New("proto handler emitted nil message")
		}
		if err := deps.validateOutgoing(out.Message); err != nil {
			return nil, err
		}
		msg, err := NewMessageFromProto(out.Message, outgoingMetadata(out.Metadata, incoming))
		if err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, nil
}

// EnsureProtoPrototype returns candidate, or a new instance of its type when
// candidate is a nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrConsumeMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrConsumeMessagePointerNeeded
	}
	typed, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto(msg proto.Message) bool {
	if msg == nil {
		return true
	}
	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
