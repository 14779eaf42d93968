package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	configpkg "github.com/drblury/handlerflow/internal/runtime/config"
	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	"github.com/drblury/handlerflow/internal/runtime/handler"
	handlerspkg "github.com/drblury/handlerflow/internal/runtime/handlers"
	"github.com/drblury/handlerflow/internal/runtime/idempotency"
	loggingpkg "github.com/drblury/handlerflow/internal/runtime/logging"
	metricspkg "github.com/drblury/handlerflow/internal/runtime/metrics"
	transportpkg "github.com/drblury/handlerflow/internal/runtime/transport"
	"github.com/drblury/handlerflow/metadatastore"

	_ "github.com/drblury/handlerflow/metadatastore/providers"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// UnprocessableEventError marks payloads that can never be handled. The poison
// queue middleware forwards them instead of retrying.
type UnprocessableEventError = errspkg.UnprocessableEventError

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the configured defaults.
type ServiceDependencies struct {
	Validator                 handlerspkg.Validator
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	ErrorClassifier           handler.ErrorClassifier

	// MetadataStore replaces the store opened from Config.MetadataStore. The
	// Service does not close a store it was given.
	MetadataStore *metadatastore.Store
	// MetricsCaptor replaces the captor selected by Config.MetricsSink.
	MetricsCaptor metricspkg.Captor
	// Hooks are invoked by every handler core.
	Hooks JobHooks
}

// Service wires a Watermill router, publisher, subscriber, and middleware chain
// around the handler cores registered on it.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	transport  transportpkg.Transport

	validator handlerspkg.Validator
	store     *metadatastore.Store
	ownsStore bool
	captor    metricspkg.Captor
	hooks     JobHooks

	handlers   map[string]*registeredHandler
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	errorClassifier handler.ErrorClassifier
	resourceTracker *resourceTracker
	started         atomic.Bool
	closeOnce       sync.Once
	closeErr        error
}

type registeredHandler struct {
	core         *handler.Core
	guard        *idempotency.Guard
	consumeQueue string
	publishQueue string
}

// NewService constructs a Service for the supplied configuration and panics when
// a collaborator cannot be built. Register handlers on the returned Service
// before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	svc, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return svc
}

// TryNewService is NewService returning the construction error.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating event service",
		loggingpkg.LogFields{
			"pubsub_system":  conf.PubSubSystem,
			"metadata_store": conf.MetadataStoreSystem(),
			"config":         conf.String(),
		})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		validator:       deps.Validator,
		hooks:           deps.Hooks,
		handlers:        make(map[string]*registeredHandler),
		errorClassifier: deps.ErrorClassifier,
		resourceTracker: newResourceTracker(),
	}
	if s.errorClassifier == nil {
		s.errorClassifier = handler.DefaultErrorClassifier
	}
	s.captor = selectCaptor(conf, deps.MetricsCaptor)

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", conf.PubSubSystem, err)
	}
	s.transport = transport
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber

	if deps.MetadataStore != nil {
		s.store = deps.MetadataStore
	} else {
		store, err := metadatastore.Open(ctx, conf, wmLogger)
		if err != nil {
			_ = transport.Close()
			return nil, fmt.Errorf("open %s metadata store: %w", conf.MetadataStoreSystem(), err)
		}
		s.store = store
		s.ownsStore = true
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		_ = s.closeResources()
		return nil, err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		_ = s.closeResources()
		return nil, err
	}

	if caps := transportpkg.Capabilities(conf); caps.SupportsReliableDelivery() && conf.IdempotencyHeader == "" {
		log.Debug("Transport redelivers failed messages; set IdempotencyHeader to deduplicate them",
			loggingpkg.LogFields{"pubsub_system": caps.Name})
	}

	return s, nil
}

func selectCaptor(conf *configpkg.Config, override metricspkg.Captor) metricspkg.Captor {
	if override != nil {
		return override
	}
	if !conf.MetricsEnabled {
		return nil
	}
	switch conf.MetricsSinkName() {
	case configpkg.MetricsSinkPrometheus:
		return metricspkg.NewPrometheusCaptor(prometheus.DefaultRegisterer)
	case configpkg.MetricsSinkOTel:
		return metricspkg.NewOTelCaptor(otel.Meter("handlerflow"))
	default:
		return nil
	}
}

// Start runs the underlying Watermill router until the provided context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.StartManagementServer()
	s.startHTTPServers()
	if s.transport.Serve != nil {
		go s.serveTransport(ctx)
	}
	s.started.Store(true)
	return routerRun(s.router, ctx)
}

// serveTransport starts inbound serving once every subscription exists.
func (s *Service) serveTransport(ctx context.Context) {
	select {
	case <-s.router.Running():
	case <-ctx.Done():
		return
	}
	if err := s.transport.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.Logger.Error("Transport server stopped", err, loggingpkg.LogFields{"pubsub_system": s.Conf.PubSubSystem})
	}
}

// Close stops the router and releases handler timers, idempotency counters,
// the metadata store and the transport. It is safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		// A router that never ran waits out its close timeout.
		if s.router != nil && s.started.Load() {
			errs = append(errs, s.router.Close())
		}

		s.handlersMu.RLock()
		for _, h := range s.handlers {
			h.core.Destroy()
			if h.guard != nil {
				h.guard.Close()
			}
		}
		s.handlersMu.RUnlock()

		errs = append(errs, s.closeResources())
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Service) closeResources() error {
	var errs []error
	if s.ownsStore && s.store != nil {
		errs = append(errs, s.store.Close())
	}
	errs = append(errs, s.transport.Close())
	return errors.Join(errs...)
}

// Store returns the metadata store shared by handlers and the idempotency guards.
func (s *Service) Store() *metadatastore.Store {
	return s.store
}

// Handlers returns the registered handlers in registration order.
func (s *Service) Handlers() []HandlerInfo {
	s.handlersMu.RLock()
	infos := make([]HandlerInfo, 0, len(s.handlers))
	for _, h := range s.handlers {
		infos = append(infos, HandlerInfo{
			Info:         h.core.Info(),
			ConsumeQueue: h.consumeQueue,
			PublishQueue: h.publishQueue,
			Idempotent:   h.guard != nil,
		})
	}
	s.handlersMu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Order != infos[j].Order {
			return infos[i].Order < infos[j].Order
		}
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Handler returns the core registered under name.
func (s *Service) Handler(name string) (*handler.Core, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	h, ok := s.handlers[name]
	if !ok {
		return nil, false
	}
	return h.core, true
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) getResourceTracker() *resourceTracker {
	if s.resourceTracker == nil {
		s.resourceTracker = newResourceTracker()
	}
	return s.resourceTracker
}

// RegisterHTTPHandler mounts handler on the HTTP server listening on port.
// Servers are started by Start.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
