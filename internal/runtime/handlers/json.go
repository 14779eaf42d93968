package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	idspkg "github.com/drblury/handlerflow/internal/runtime/ids"
	"github.com/drblury/handlerflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/handlerflow/internal/runtime/metadata"
)

// JSONHandlerRegistration wires a typed JSON handler to the router.
type JSONHandlerRegistration[T any, O any] struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Handler      JSONMessageHandler[T, O]
	// ShouldTrack appends the handler name to the history header of outputs.
	ShouldTrack bool
}

// JSONMessageContext exposes the decoded payload of a JSON message.
type JSONMessageContext[T any] struct {
	MessageContextBase
	Payload T
}

// JSONMessageOutput is an event emitted by a JSON handler. Nil Metadata
// reuses the incoming headers.
type JSONMessageOutput[T any] struct {
	Message  T
	Metadata metadatapkg.Metadata
}

// JSONMessageHandler processes a JSON payload and returns the events to publish.
type JSONMessageHandler[T any, O any] func(ctx context.Context, event JSONMessageContext[T]) ([]JSONMessageOutput[O], error)

// BuildJSONHandler converts a typed JSON handler into a Watermill handler. T
// must be a pointer type.
func BuildJSONHandler[T any, O any](handler JSONMessageHandler[T, O], deps Deps) (message.HandlerFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	newPayload, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(msg *message.Message) ([]*message.Message, error) {
		payload := newPayload()
		if err := jsoncodec.Unmarshal(msg.Payload, payload); err != nil {
			return nil, errspkg.NewUnprocessableEventError(string(msg.Payload), fmt.Errorf("decode %T: %w", payload, err))
		}
		if err := deps.validateIncoming(msg.Payload, payload); err != nil {
			return nil, err
		}

		event := JSONMessageContext[T]{MessageContextBase: deps.base(msg), Payload: payload}
		outputs, err := handler(msg.Context(), event)
		if err != nil {
			return nil, err
		}
		return convertJSONOutputs(outputs, event.Metadata, deps)
	}, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrConsumeMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrConsumeMessagePointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}

func convertJSONOutputs[O any](outputs []JSONMessageOutput[O], incoming metadatapkg.Metadata, deps Deps) ([]*message.Message, error) {
	if len(outputs) == 0 {
		return nil, nil
	}

	result := make([]*message.Message, 0, len(outputs))
	for _, out := range outputs {
		if reflect.ValueOf(&out.Message).Elem().IsZero() {
			return nil, errors.New("json handler emitted zero-value message")
		}
		if err := deps.validateOutgoing(out.Message); err != nil {
			return nil, err
		}
		payload, err := jsoncodec.Marshal(out.Message)
		if err != nil {
			return nil, err
		}

		md := outgoingMetadata(out.Metadata, incoming)
		md[metadatapkg.KeyEventSchema] = fmt.Sprintf("%T", out.Message)

		msg := message.NewMessage(idspkg.CreateULID(), payload)
		msg.Metadata = metadatapkg.ToWatermill(md)
		result = append(result, msg)
	}
	return result, nil
}
