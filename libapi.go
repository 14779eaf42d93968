package handlerflow

import (
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/handlerflow/internal/runtime"
	configpkg "github.com/drblury/handlerflow/internal/runtime/config"
	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/handlerflow/internal/runtime/handler"
	handlerspkg "github.com/drblury/handlerflow/internal/runtime/handlers"
	"github.com/drblury/handlerflow/internal/runtime/idempotency"
	idspkg "github.com/drblury/handlerflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/handlerflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/handlerflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/handlerflow/internal/runtime/metadata"
	metricspkg "github.com/drblury/handlerflow/internal/runtime/metrics"
	transportpkg "github.com/drblury/handlerflow/internal/runtime/transport"
	"github.com/drblury/handlerflow/metadatastore"
	newtransport "github.com/drblury/handlerflow/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Validator            = handlerspkg.Validator
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	MessageHandlerRegistration                = runtimepkg.MessageHandlerRegistration
	JSONHandlerRegistration[T any, O any]     = handlerspkg.JSONHandlerRegistration[T, O]
	JSONMessageContext[T any]                 = handlerspkg.JSONMessageContext[T]
	JSONMessageOutput[T any]                  = handlerspkg.JSONMessageOutput[T]
	JSONMessageHandler[T any, O any]          = handlerspkg.JSONMessageHandler[T, O]
	ProtoHandlerRegistration[T proto.Message] = handlerspkg.ProtoHandlerRegistration[T]
	ProtoMessageContext[T proto.Message]      = handlerspkg.ProtoMessageContext[T]
	ProtoMessageOutput                        = handlerspkg.ProtoMessageOutput
	ProtoMessageHandler[T proto.Message]      = handlerspkg.ProtoMessageHandler[T]
	MessageContextBase                        = handlerspkg.MessageContextBase

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	Producer = runtimepkg.Producer

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	UnprocessableEventError = runtimepkg.UnprocessableEventError
	InvalidArgumentError    = errspkg.InvalidArgumentError
	InvalidMessageError     = errspkg.InvalidMessageError
	MessagingError          = errspkg.MessagingError
	ConfigurationError      = errspkg.ConfigurationError
	ConfigValidationError   = errspkg.ConfigValidationError
	DuplicateMessageError   = errspkg.DuplicateMessageError

	// Handler cores
	HandlerInfo         = runtimepkg.HandlerInfo
	HandlerCore         = handlerpkg.Core
	HandlerCoreInfo     = handlerpkg.Info
	HandlerSettings     = handlerpkg.Settings
	ManagementOverrides = handlerpkg.ManagementOverrides
	ResourceUsage       = runtimepkg.ResourceUsage

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	// Error classification
	ErrorClassifier = handlerpkg.ErrorClassifier
	ErrorCategory   = handlerpkg.ErrorCategory

	// Metrics
	MetricsRegistry = metricspkg.Registry
	MetricsSnapshot = metricspkg.Snapshot
	MetricsCaptor   = metricspkg.Captor
	MetricsTags     = metricspkg.Tags
	Timer           = metricspkg.Timer
	Counter         = metricspkg.Counter

	// Metadata store
	MetadataStore         = metadatastore.Store
	MetadataStoreProvider = metadatastore.Provider
	MetadataStoreBuilder  = metadatastore.Builder
	MetadataStoreConfig   = metadatastore.Config

	// Idempotent receiver
	IdempotencyGuard       = idempotency.Guard
	Admission              = idempotency.Admission
	DuplicatePolicy        = idempotency.DuplicatePolicy
	KeyStrategy            = idempotency.KeyStrategy
	InterceptorConfig      = idempotency.InterceptorConfig
	IdempotencyInterceptor = idempotency.Interceptor

	// Modular transport types
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	ValidateConfig = configpkg.ValidateConfig

	RegisterMessageHandler = runtimepkg.RegisterMessageHandler

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	IsRetryable             = runtimepkg.IsRetryable
	IsPoison                = runtimepkg.IsPoison

	// Job lifecycle hooks
	JobHooksMiddleware = runtimepkg.JobHooksMiddleware
	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks

	// Handler cores
	NewHandlerCore         = handlerpkg.New
	DefaultHandlerSettings = handlerpkg.DefaultSettings
	WithHandlerLogger      = handlerpkg.WithLogger
	WithHandlerSettings    = handlerpkg.WithSettings
	WithHandlerCaptor      = handlerpkg.WithCaptor
	WithHandlerRegistry    = handlerpkg.WithRegistry
	WithHandlerHooks       = handlerpkg.WithHooks
	WithHandlerClassifier  = handlerpkg.WithClassifier
	WithHandlerTopic       = handlerpkg.WithTopic
	DefaultErrorClassifier = handlerpkg.DefaultErrorClassifier

	// Metrics
	NewMetricsRegistry  = metricspkg.NewRegistry
	NewPrometheusCaptor = metricspkg.NewPrometheusCaptor
	NewOTelCaptor       = metricspkg.NewOTelCaptor

	// Metadata store
	NewMetadataStore              = metadatastore.New
	OpenMetadataStore             = metadatastore.Open
	RegisterMetadataStoreProvider = metadatastore.Register
	DefaultMetadataStoreRegistry  = metadatastore.DefaultRegistry

	// Idempotent receiver
	NewIdempotencyGuard       = idempotency.NewGuard
	NewIdempotencyInterceptor = idempotency.NewInterceptor
	WithGuardMarker           = idempotency.WithMarker
	WithGuardCaptor           = idempotency.WithCaptor
	WithGuardLogger           = idempotency.WithLogger
	TimestampMarker           = idempotency.TimestampMarker
	HeaderKey                 = idempotency.HeaderKey
	UUIDKey                   = idempotency.UUIDKey
	PayloadHashKey            = idempotency.PayloadHashKey
	ParseDuplicatePolicy      = idempotency.ParseDuplicatePolicy

	// Transport capabilities and registry.
	// Import individual transports via: _ "github.com/drblury/handlerflow/transport/kafka"
	GetCapabilities          = newtransport.GetCapabilities
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	PublishJSON         = runtimepkg.PublishJSON
	PublishProto        = runtimepkg.PublishProto
	NewMessageFromProto = runtimepkg.NewMessageFromProto

	ErrServiceRequired             = errspkg.ErrServiceRequired
	ErrHandlerRequired             = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired        = errspkg.ErrConsumeQueueRequired
	ErrHandlerNameRequired         = errspkg.ErrHandlerNameRequired
	ErrHandlerNameTaken            = errspkg.ErrHandlerNameTaken
	ErrConsumeMessageTypeRequired  = errspkg.ErrConsumeMessageTypeRequired
	ErrConsumeMessagePointerNeeded = errspkg.ErrConsumeMessagePointerNeeded
	ErrPublisherRequired           = errspkg.ErrPublisherRequired
	ErrTopicRequired               = errspkg.ErrTopicRequired
	ErrConfigRequired              = errspkg.ErrConfigRequired
	ErrLoggerRequired              = errspkg.ErrLoggerRequired
	ErrEventPayloadRequired        = errspkg.ErrEventPayloadRequired
	ErrStoreRequired               = errspkg.ErrStoreRequired
	ErrProviderRequired            = errspkg.ErrProviderRequired
	ErrKeyNull                     = errspkg.ErrKeyNull
	ErrValueNull                   = errspkg.ErrValueNull

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyEventSchema   = metadatapkg.KeyEventSchema
	MetadataKeyIdempotency   = metadatapkg.KeyIdempotency
	MetadataKeyTraceID       = metadatapkg.KeyTraceID
	MetadataKeySpanID        = metadatapkg.KeySpanID
	MetadataKeyHistory       = handlerpkg.MetadataKeyHistory
	MetadataKeyDuplicate     = idempotency.DuplicateHeader
)

// Metadata store providers selectable through Config.MetadataStore.
const (
	MetadataStoreMemory = configpkg.MetadataStoreMemory
	MetadataStoreRedis  = configpkg.MetadataStoreRedis
	MetadataStoreSQL    = configpkg.MetadataStoreSQL
	MetadataStoreNATSKV = configpkg.MetadataStoreNATSKV
)

// Metrics sinks selectable through Config.MetricsSink.
const (
	MetricsSinkPrometheus = configpkg.MetricsSinkPrometheus
	MetricsSinkOTel       = configpkg.MetricsSinkOTel
	MetricsSinkNone       = configpkg.MetricsSinkNone
)

// Idempotent receiver outcomes and duplicate policies.
const (
	Admitted  = idempotency.Admitted
	Duplicate = idempotency.Duplicate

	DuplicateDrop    = idempotency.DuplicateDrop
	DuplicateDiscard = idempotency.DuplicateDiscard
	DuplicateMark    = idempotency.DuplicateMark
	DuplicateReject  = idempotency.DuplicateReject
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = handlerpkg.ErrorCategoryNone
	ErrorCategoryValidation = handlerpkg.ErrorCategoryValidation
	ErrorCategoryTransport  = handlerpkg.ErrorCategoryTransport
	ErrorCategoryDownstream = handlerpkg.ErrorCategoryDownstream
	ErrorCategoryDuplicate  = handlerpkg.ErrorCategoryDuplicate
	ErrorCategoryOther      = handlerpkg.ErrorCategoryOther
)

func RegisterJSONHandler[T any, O any](svc *Service, cfg JSONHandlerRegistration[T, O]) error {
	return runtimepkg.RegisterJSONHandler(svc, cfg)
}

func RegisterProtoHandler[T proto.Message](svc *Service, cfg ProtoHandlerRegistration[T]) error {
	return runtimepkg.RegisterProtoHandler(svc, cfg)
}

func NewProtoMessage[T proto.Message]() (T, error) {
	return runtimepkg.NewProtoMessage[T]()
}

func MustProtoMessage[T proto.Message]() T {
	return runtimepkg.MustProtoMessage[T]()
}
