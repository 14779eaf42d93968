package runtime

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	"github.com/drblury/handlerflow/internal/runtime/handler"
	"github.com/drblury/handlerflow/internal/runtime/idempotency"
	loggingpkg "github.com/drblury/handlerflow/internal/runtime/logging"
)

// HandlerInfo is the management view of a registered handler.
type HandlerInfo struct {
	handler.Info
	ConsumeQueue string `json:"consume_queue"`
	PublishQueue string `json:"publish_queue,omitempty"`
	Idempotent   bool   `json:"idempotent"`
}

type handlerRegistration struct {
	Name         string
	ConsumeQueue string
	Subscriber   message.Subscriber
	PublishQueue string
	Publisher    message.Publisher
	Handler      message.HandlerFunc
	ShouldTrack  bool
}

// MessageHandlerRegistration wires a raw Watermill handler without typed helpers.
type MessageHandlerRegistration struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Handler      message.HandlerFunc
	Subscriber   message.Subscriber
	Publisher    message.Publisher
	// ShouldTrack appends the handler name to the history header of outputs.
	ShouldTrack bool
}

// RegisterMessageHandler attaches the provided handler to the service router.
func RegisterMessageHandler(svc *Service, cfg MessageHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	return svc.registerHandler(handlerRegistration{
		Name:         cfg.Name,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Subscriber:   cfg.Subscriber,
		Publisher:    cfg.Publisher,
		Handler:      cfg.Handler,
		ShouldTrack:  cfg.ShouldTrack,
	})
}

// registerHandler builds the handler core, puts the idempotent receiver in
// front of the logic when configured and adds the core to the router.
func (s *Service) registerHandler(cfg handlerRegistration) error {
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.ConsumeQueue == "" {
		return errspkg.ErrConsumeQueueRequired
	}
	if cfg.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}
	if cfg.Subscriber == nil {
		cfg.Subscriber = s.subscriber
	}
	if cfg.Publisher == nil {
		cfg.Publisher = s.publisher
	}

	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	if _, taken := s.handlers[cfg.Name]; taken {
		return fmt.Errorf("%w: %s", errspkg.ErrHandlerNameTaken, cfg.Name)
	}

	logic := cfg.Handler
	var guard *idempotency.Guard
	if s.Conf.IdempotencyHeader != "" {
		var err error
		guard, logic, err = s.idempotentReceiver(cfg.Name, cfg.Publisher, logic)
		if err != nil {
			return err
		}
	}

	core, err := handler.New(cfg.Name, logic, s.coreOptions(cfg)...)
	if err != nil {
		if guard != nil {
			guard.Close()
		}
		return err
	}
	core.SetOrder(len(s.handlers))
	core.SetShouldTrack(cfg.ShouldTrack)
	core.SetManagedName(cfg.ConsumeQueue)
	core.SetManagedType(s.Conf.PubSubSystem)

	s.handlers[cfg.Name] = &registeredHandler{
		core:         core,
		guard:        guard,
		consumeQueue: cfg.ConsumeQueue,
		publishQueue: cfg.PublishQueue,
	}

	if cfg.PublishQueue == "" {
		s.router.AddConsumerHandler(cfg.Name, cfg.ConsumeQueue, cfg.Subscriber, func(msg *message.Message) error {
			_, err := core.Handle(msg)
			return err
		})
		return nil
	}

	s.router.AddHandler(
		cfg.Name,
		cfg.ConsumeQueue,
		cfg.Subscriber,
		cfg.PublishQueue,
		cfg.Publisher,
		core.Handle,
	)
	return nil
}

func (s *Service) coreOptions(cfg handlerRegistration) []handler.Option {
	settings := handler.DefaultSettings()
	settings.LoggingEnabled = s.Conf.HandlerLoggingEnabled
	settings.StatsEnabled = s.Conf.HandlerStatsEnabled

	return []handler.Option{
		handler.WithLogger(s.Logger),
		handler.WithSettings(settings),
		handler.WithCaptor(s.captor),
		handler.WithClassifier(s.errorClassifier),
		handler.WithTopic(cfg.ConsumeQueue),
		handler.WithHooks(s.hooks),
	}
}

// idempotentReceiver guards logic with a per-handler key namespace in the
// Service metadata store.
func (s *Service) idempotentReceiver(name string, publisher message.Publisher, logic message.HandlerFunc) (*idempotency.Guard, message.HandlerFunc, error) {
	policy, err := idempotency.ParseDuplicatePolicy(s.Conf.IdempotencyPolicyName())
	if err != nil {
		return nil, nil, err
	}

	logger := loggingpkg.ForHandler(s.Logger, name)
	guard, err := idempotency.NewGuard(name, s.store,
		idempotency.WithCaptor(s.captor),
		idempotency.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}

	interceptor, err := idempotency.NewInterceptor(guard, idempotency.InterceptorConfig{
		Key:              idempotency.HeaderKey(s.Conf.IdempotencyHeader),
		KeyPrefix:        name + ":",
		Policy:           policy,
		DiscardTopic:     s.Conf.IdempotencyDiscardTopic,
		Publisher:        publisher,
		ReleaseOnFailure: s.Conf.IdempotencyReleaseOnFailure,
		ReleaseIf:        IsRetryable,
	}, logger)
	if err != nil {
		guard.Close()
		return nil, nil, err
	}
	return guard, interceptor.Middleware(logic), nil
}
