// Package handlers turns typed JSON and protobuf handlers into Watermill
// handler functions. Payloads that cannot be decoded or fail validation are
// reported as UnprocessableEventError so the poison queue picks them up.
package handlers

import (
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/handlerflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/handlerflow/internal/runtime/metadata"
	"github.com/drblury/handlerflow/metadatastore"
)

// Validator validates decoded payloads, typically by forwarding to
// protovalidate or a struct validator.
type Validator interface {
	Validate(value any) error
}

// Deps are the collaborators a typed handler is built with. All are optional.
type Deps struct {
	Logger loggingpkg.ServiceLogger
	// Store is exposed to handlers through their message context.
	Store     *metadatastore.Store
	Validator Validator
	// ValidateOutgoing also runs Validator over emitted events.
	ValidateOutgoing bool
}

func (d Deps) logger() loggingpkg.ServiceLogger {
	if d.Logger == nil {
		return loggingpkg.NewNopServiceLogger()
	}
	return d.Logger
}

func (d Deps) base(msg *message.Message) MessageContextBase {
	return MessageContextBase{
		MessageUUID: msg.UUID,
		Metadata:    metadatapkg.FromWatermill(msg.Metadata),
		Logger:      d.logger(),
		Store:       d.Store,
	}
}

func (d Deps) validateIncoming(payload []byte, value any) error {
	if d.Validator == nil {
		return nil
	}
	if err := d.Validator.Validate(value); err != nil {
		return errspkg.NewUnprocessableEventError(string(payload), err)
	}
	return nil
}

func (d Deps) validateOutgoing(value any) error {
	if !d.ValidateOutgoing || d.Validator == nil {
		return nil
	}
	return d.Validator.Validate(value)
}

// MessageContextBase is shared by the JSON and protobuf message contexts.
type MessageContextBase struct {
	MessageUUID string
	Metadata    metadatapkg.Metadata
	Logger      loggingpkg.ServiceLogger
	// Store is the Service metadata store, nil when the handler runs standalone.
	Store *metadatastore.Store
}

// CloneMetadata returns a copy handlers can mutate for outgoing events.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get returns a header value.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the correlation id header, if present.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata.CorrelationID()
}

// outgoingMetadata picks the metadata of an emitted event: its own, else the
// incoming headers. The correlation id of the incoming message is carried over.
func outgoingMetadata(own, incoming metadatapkg.Metadata) metadatapkg.Metadata {
	md := own
	if md == nil {
		md = incoming
	}
	md = md.Clone()
	if _, ok := md[metadatapkg.KeyCorrelationID]; !ok {
		if id := incoming.CorrelationID(); id != "" {
			md[metadatapkg.KeyCorrelationID] = id
		}
	}
	return md
}
