package runtime

import (
	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	handlerspkg "github.com/drblury/handlerflow/internal/runtime/handlers"
)

// RegisterJSONHandler converts the typed JSON handler into a Watermill handler and registers it.
func RegisterJSONHandler[T any, O any](svc *Service, cfg handlerspkg.JSONHandlerRegistration[T, O]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	wrapped, err := handlerspkg.BuildJSONHandler(cfg.Handler, svc.handlerDeps(false))
	if err != nil {
		return err
	}

	return svc.registerHandler(handlerRegistration{
		Name:         cfg.Name,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Handler:      wrapped,
		ShouldTrack:  cfg.ShouldTrack,
	})
}

func (s *Service) handlerDeps(validateOutgoing bool) handlerspkg.Deps {
	return handlerspkg.Deps{
		Logger:           s.Logger,
		Store:            s.store,
		Validator:        s.validator,
		ValidateOutgoing: validateOutgoing,
	}
}
