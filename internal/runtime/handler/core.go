// Package handler runs per-message handler logic with input validation, error
// translation, lifecycle hooks and metrics capture.
package handler

import (
	"math"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/handlerflow/internal/runtime/logging"
	metricspkg "github.com/drblury/handlerflow/internal/runtime/metrics"
)

// ComponentType identifies handler cores to management tooling.
const ComponentType = "message-handler"

// DefaultOrder sorts cores without an explicit order last.
const DefaultOrder = math.MaxInt32

// Settings are the management toggles of a Core.
type Settings struct {
	LoggingEnabled bool `json:"logging_enabled"`
	CountsEnabled  bool `json:"counts_enabled"`
	StatsEnabled   bool `json:"stats_enabled"`
	// TimersEnabled requires a registered metrics captor.
	TimersEnabled bool `json:"timers_enabled"`
}

// DefaultSettings enables logging and counts.
func DefaultSettings() Settings {
	return Settings{LoggingEnabled: true, CountsEnabled: true}
}

// ManagementOverrides records which attributes were configured explicitly
// rather than inherited. A flag is never cleared once set.
type ManagementOverrides struct {
	LoggingConfigured bool `json:"logging_configured"`
	MetricsConfigured bool `json:"metrics_configured"`
	CountsConfigured  bool `json:"counts_configured"`
	StatsConfigured   bool `json:"stats_configured"`
}

// Info is a point-in-time view of a Core for management endpoints.
type Info struct {
	Name          string              `json:"name"`
	ComponentType string              `json:"component_type"`
	ManagedName   string              `json:"managed_name,omitempty"`
	ManagedType   string              `json:"managed_type,omitempty"`
	Order         int                 `json:"order"`
	ShouldTrack   bool                `json:"should_track"`
	Settings      Settings            `json:"settings"`
	Overrides     ManagementOverrides `json:"overrides"`
	Metrics       metricspkg.Snapshot `json:"metrics"`
	Timers        int                 `json:"timers"`
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger used when logging is enabled.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(c *Core) {
		if logger != nil {
			c.logger = loggingpkg.ForHandler(logger, c.name)
		}
	}
}

// WithSettings replaces the default settings. Unlike the setters, it does not
// mark any attribute as explicitly configured.
func WithSettings(settings Settings) Option {
	return func(c *Core) {
		if settings.StatsEnabled {
			settings.CountsEnabled = true
		}
		c.settings = settings
	}
}

// WithCaptor registers a metrics captor and enables timers.
func WithCaptor(captor metricspkg.Captor) Option {
	return func(c *Core) {
		if captor != nil {
			c.captor = captor
			c.settings.TimersEnabled = true
		}
	}
}

// WithRegistry uses registry instead of a private one.
func WithRegistry(registry *metricspkg.Registry) Option {
	return func(c *Core) {
		if registry != nil {
			c.registry = registry
		}
	}
}

// WithHooks sets lifecycle hooks invoked around the handler logic.
func WithHooks(hooks Hooks) Option {
	return func(c *Core) {
		c.hooks = c.hooks.Merge(hooks)
	}
}

// WithClassifier sets the classifier used to tag failure timers.
func WithClassifier(classifier ErrorClassifier) Option {
	return func(c *Core) {
		if classifier != nil {
			c.classifier = classifier
		}
	}
}

// WithTopic records the consume topic reported to hooks.
func WithTopic(topic string) Option {
	return func(c *Core) {
		c.topic = topic
	}
}

// Core wraps handler logic. It is safe for concurrent use by the router.
type Core struct {
	name       string
	topic      string
	logic      message.HandlerFunc
	logger     loggingpkg.ServiceLogger
	hooks      Hooks
	classifier ErrorClassifier

	mu          sync.RWMutex
	settings    Settings
	overrides   ManagementOverrides
	registry    *metricspkg.Registry
	captor      metricspkg.Captor
	timers      *metricspkg.TimerSet
	order       int
	shouldTrack bool
	managedName string
	managedType string
	destroyed   bool
}

// New creates a Core running logic under name.
func New(name string, logic message.HandlerFunc, opts ...Option) (*Core, error) {
	if logic == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	c := &Core{
		name:       name,
		logic:      logic,
		logger:     loggingpkg.NewNopServiceLogger(),
		classifier: DefaultErrorClassifier,
		settings:   DefaultSettings(),
		registry:   metricspkg.NewRegistry(),
		order:      DefaultOrder,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.registry.SetFullStatsEnabled(c.settings.StatsEnabled)
	if c.captor != nil {
		c.timers = metricspkg.NewTimerSet(c.captor, c.name)
	}
	return c, nil
}

// Name returns the handler name.
func (c *Core) Name() string {
	return c.name
}

// Handle validates msg, runs the handler logic and records the outcome. It has
// the signature of a Watermill handler function.
func (c *Core) Handle(msg *message.Message) ([]*message.Message, error) {
	c.mu.RLock()
	settings := c.settings
	registry := c.registry
	timers := c.timers
	shouldTrack := c.shouldTrack
	captorMissing := settings.TimersEnabled && c.captor == nil
	c.mu.RUnlock()

	if msg == nil || msg.Payload == nil {
		registry.RecordInvalid()
		err := invalidMessage(msg)
		if settings.LoggingEnabled {
			c.logger.Error("Rejected invalid message", err, nil)
		}
		return nil, err
	}
	if captorMissing {
		return nil, &errspkg.ConfigurationError{
			Component: "handler " + c.displayName(),
			Reason:    "timers are enabled but no metrics captor is registered",
		}
	}

	start := time.Now()
	job := NewJobContext(c.name, c.topic, msg, start)

	if settings.CountsEnabled {
		registry.RecordStart()
	}
	c.hooks.start(job)

	outputs, err := c.logic(msg)
	duration := time.Since(start)
	err = errspkg.WrapMessagingError(c.displayName(), msg.UUID, err)

	if settings.CountsEnabled {
		if err != nil {
			registry.RecordFailure(duration)
		} else {
			registry.RecordSuccess(duration)
		}
	}

	var category ErrorCategory
	if err != nil {
		category = c.classifier(err)
	}
	if timers != nil && settings.TimersEnabled {
		if err != nil {
			timers.Failure(string(category)).Record(duration)
		} else {
			timers.Success().Record(duration)
		}
	}

	job.Duration = duration
	c.hooks.finish(job, err)

	if settings.LoggingEnabled {
		fields := loggingpkg.LogFields{
			"message_uuid": msg.UUID,
			"duration_ms":  duration.Milliseconds(),
		}
		if err != nil {
			fields["error_category"] = string(category)
			c.logger.Error("Message handler failed", err, fields)
		} else {
			c.logger.Debug("Message handled", fields)
		}
	}

	if err != nil {
		return nil, err
	}
	if shouldTrack {
		c.track(msg, outputs)
	}
	return outputs, nil
}

// track appends the handler name to the history header of every output.
func (c *Core) track(msg *message.Message, outputs []*message.Message) {
	history := msg.Metadata.Get(MetadataKeyHistory)
	if history != "" {
		history += ","
	}
	history += c.displayName()

	for _, out := range outputs {
		if out == nil {
			continue
		}
		if out.Metadata == nil {
			out.Metadata = message.Metadata{}
		}
		out.Metadata.Set(MetadataKeyHistory, history)
	}
}

func invalidMessage(msg *message.Message) error {
	if msg == nil {
		return &errspkg.InvalidMessageError{Reason: "message must not be nil"}
	}
	return &errspkg.InvalidMessageError{Reason: "payload of message " + msg.UUID + " must not be nil"}
}

func (c *Core) displayName() string {
	if c.name == "" {
		return metricspkg.UnknownName
	}
	return c.name
}

// SetLoggingEnabled toggles failure and debug logging.
func (c *Core) SetLoggingEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.LoggingEnabled = enabled
	c.overrides.LoggingConfigured = true
}

func (c *Core) IsLoggingEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.LoggingEnabled
}

// SetCountsEnabled toggles counting. Disabling counts also disables stats.
func (c *Core) SetCountsEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.CountsEnabled = enabled
	c.overrides.CountsConfigured = true
	if !enabled {
		c.settings.StatsEnabled = false
		c.registry.SetFullStatsEnabled(false)
		c.overrides.StatsConfigured = true
	}
}

func (c *Core) IsCountsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.CountsEnabled
}

// SetStatsEnabled toggles full duration statistics. Enabling stats also
// enables counts.
func (c *Core) SetStatsEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled {
		c.settings.CountsEnabled = true
		c.overrides.CountsConfigured = true
	}
	c.settings.StatsEnabled = enabled
	c.registry.SetFullStatsEnabled(enabled)
	c.overrides.StatsConfigured = true
}

func (c *Core) IsStatsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.StatsEnabled
}

// SetTimersEnabled toggles captor timers. Handle fails with a ConfigurationError
// while timers are enabled without a captor.
func (c *Core) SetTimersEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.TimersEnabled = enabled
}

// ConfigureMetrics replaces the metrics registry.
func (c *Core) ConfigureMetrics(registry *metricspkg.Registry) error {
	if registry == nil {
		return errspkg.NewInvalidArgumentError("metrics")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	registry.SetFullStatsEnabled(c.settings.StatsEnabled)
	c.registry = registry
	c.overrides.MetricsConfigured = true
	return nil
}

// RegisterMetricsCaptor sets the captor and enables timers. Timers of a
// previous captor are removed.
func (c *Core) RegisterMetricsCaptor(captor metricspkg.Captor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timers != nil {
		c.timers.Remove()
		c.timers = nil
	}
	c.captor = captor
	if captor == nil || c.destroyed {
		return
	}
	c.timers = metricspkg.NewTimerSet(captor, c.name)
	c.settings.TimersEnabled = true
}

func (c *Core) SetOrder(order int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = order
}

func (c *Core) Order() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order
}

// SetShouldTrack toggles message history tracking on output messages.
func (c *Core) SetShouldTrack(track bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldTrack = track
}

func (c *Core) ShouldTrack() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shouldTrack
}

func (c *Core) SetManagedName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.managedName = name
}

func (c *Core) ManagedName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.managedName
}

func (c *Core) SetManagedType(managedType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.managedType = managedType
}

func (c *Core) ManagedType() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.managedType
}

func (c *Core) ComponentType() string {
	return ComponentType
}

func (c *Core) Overrides() ManagementOverrides {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.overrides
}

func (c *Core) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Snapshot returns the current metrics.
func (c *Core) Snapshot() metricspkg.Snapshot {
	c.mu.RLock()
	registry := c.registry
	c.mu.RUnlock()
	return registry.Snapshot()
}

// Reset zeroes the metrics.
func (c *Core) Reset() {
	c.mu.RLock()
	registry := c.registry
	c.mu.RUnlock()
	registry.Reset()
}

// Info returns a management view of the core.
func (c *Core) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	timers := 0
	if c.timers != nil {
		timers = c.timers.Len()
	}
	return Info{
		Name:          c.displayName(),
		ComponentType: ComponentType,
		ManagedName:   c.managedName,
		ManagedType:   c.managedType,
		Order:         c.order,
		ShouldTrack:   c.shouldTrack,
		Settings:      c.settings,
		Overrides:     c.overrides,
		Metrics:       c.registry.Snapshot(),
		Timers:        timers,
	}
}

// Destroy removes every timer from the captor. The core keeps handling
// messages but no longer reports timers.
func (c *Core) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timers != nil {
		c.timers.Remove()
	}
	c.destroyed = true
}
