package runtime

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	handlerspkg "github.com/drblury/handlerflow/internal/runtime/handlers"
)

// RegisterProtoHandler converts the typed handler into a Watermill handler and
// registers it on the Service router. An empty name is derived from T.
func RegisterProtoHandler[T proto.Message](svc *Service, cfg handlerspkg.ProtoHandlerRegistration[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	prototype, err := NewProtoMessage[T]()
	if err != nil {
		return err
	}

	wrapped, err := handlerspkg.BuildProtoHandler(cfg.Handler, svc.handlerDeps(cfg.ValidateOutgoing))
	if err != nil {
		return err
	}

	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("%T-Handler", prototype)
	}

	return svc.registerHandler(handlerRegistration{
		Name:         name,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Handler:      wrapped,
		ShouldTrack:  cfg.ShouldTrack,
	})
}
