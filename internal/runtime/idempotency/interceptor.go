package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/handlerflow/internal/runtime/logging"
)

// DuplicateHeader is set to "true" on duplicates handled with DuplicateMark or
// DuplicateDiscard.
const DuplicateHeader = "duplicate_message"

// DefaultKeyHeader is the header read by HeaderKey when no name is given.
const DefaultKeyHeader = "idempotency_key"

// KeyStrategy extracts the dedup key from a message. A nil result means the
// message carries no key.
type KeyStrategy func(msg *message.Message) *string

// HeaderKey reads the key from a metadata header.
func HeaderKey(name string) KeyStrategy {
	if name == "" {
		name = DefaultKeyHeader
	}
	return func(msg *message.Message) *string {
		value, ok := msg.Metadata[name]
		if !ok {
			return nil
		}
		return &value
	}
}

// UUIDKey uses the message UUID.
func UUIDKey() KeyStrategy {
	return func(msg *message.Message) *string {
		key := msg.UUID
		return &key
	}
}

// PayloadHashKey uses the hex SHA-256 of the payload.
func PayloadHashKey() KeyStrategy {
	return func(msg *message.Message) *string {
		sum := sha256.Sum256(msg.Payload)
		key := hex.EncodeToString(sum[:])
		return &key
	}
}

// DuplicatePolicy decides what happens to a duplicate message.
type DuplicatePolicy int

const (
	// DuplicateDrop acknowledges the message without running the handler.
	DuplicateDrop DuplicatePolicy = iota
	// DuplicateDiscard publishes the message to a discard topic and acknowledges it.
	DuplicateDiscard
	// DuplicateMark sets DuplicateHeader and runs the handler anyway.
	DuplicateMark
	// DuplicateReject fails with a DuplicateMessageError.
	DuplicateReject
)

var policyNames = map[DuplicatePolicy]string{
	DuplicateDrop:    "drop",
	DuplicateDiscard: "discard",
	DuplicateMark:    "mark",
	DuplicateReject:  "reject",
}

func (p DuplicatePolicy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
}

// ParseDuplicatePolicy maps a policy name onto a DuplicatePolicy. An empty
// name is DuplicateDrop.
func ParseDuplicatePolicy(name string) (DuplicatePolicy, error) {
	if name == "" {
		return DuplicateDrop, nil
	}
	for policy, candidate := range policyNames {
		if candidate == name {
			return policy, nil
		}
	}
	return DuplicateDrop, fmt.Errorf("unknown duplicate policy %q", name)
}

// InterceptorConfig configures an Interceptor.
type InterceptorConfig struct {
	// Key extracts the dedup key. Defaults to UUIDKey.
	Key KeyStrategy
	// KeyPrefix namespaces keys, typically with the handler name.
	KeyPrefix string
	Policy    DuplicatePolicy
	// DiscardTopic and Publisher are required by DuplicateDiscard.
	DiscardTopic string
	Publisher    message.Publisher
	// ReleaseOnFailure forgets the key when the handler fails so a redelivery
	// is admitted again.
	ReleaseOnFailure bool
	// ReleaseIf forgets the key for failures it accepts even when
	// ReleaseOnFailure is off. Retried failures must be released or the retry
	// is treated as a duplicate.
	ReleaseIf func(error) bool
}

// Interceptor applies a Guard in front of handler logic.
type Interceptor struct {
	guard  *Guard
	cfg    InterceptorConfig
	logger loggingpkg.ServiceLogger
}

// NewInterceptor validates cfg and creates an interceptor.
func NewInterceptor(guard *Guard, cfg InterceptorConfig, logger loggingpkg.ServiceLogger) (*Interceptor, error) {
	if guard == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if cfg.Key == nil {
		cfg.Key = UUIDKey()
	}
	if cfg.Policy == DuplicateDiscard {
		if cfg.Publisher == nil {
			return nil, errspkg.ErrPublisherRequired
		}
		if cfg.DiscardTopic == "" {
			return nil, errspkg.ErrTopicRequired
		}
	}
	if _, ok := policyNames[cfg.Policy]; !ok {
		return nil, fmt.Errorf("unknown duplicate policy %d", int(cfg.Policy))
	}
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return &Interceptor{guard: guard, cfg: cfg, logger: logger}, nil
}

// Middleware wraps h. It has the signature of a Watermill handler middleware.
func (i *Interceptor) Middleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		extracted := i.cfg.Key(msg)
		if extracted == nil {
			return nil, errspkg.ErrKeyNull
		}
		key := i.cfg.KeyPrefix + *extracted
		ctx := msg.Context()

		admission, previous, err := i.guard.admit(ctx, key)
		if err != nil {
			return nil, err
		}
		if admission == Duplicate {
			return i.duplicate(h, msg, key, previous)
		}

		outputs, err := h(msg)
		if err != nil && i.shouldRelease(err) {
			i.release(ctx, key, msg.UUID)
		}
		return outputs, err
	}
}

func (i *Interceptor) duplicate(h message.HandlerFunc, msg *message.Message, key, previous string) ([]*message.Message, error) {
	fields := loggingpkg.LogFields{
		"message_uuid": msg.UUID,
		"key":          key,
		"policy":       i.cfg.Policy.String(),
	}

	switch i.cfg.Policy {
	case DuplicateMark:
		msg.Metadata.Set(DuplicateHeader, "true")
		i.logger.Debug("Marked duplicate message", fields)
		return h(msg)
	case DuplicateReject:
		return nil, &errspkg.DuplicateMessageError{Key: key, MessageUUID: msg.UUID, Previous: previous}
	case DuplicateDiscard:
		discarded := msg.Copy()
		discarded.Metadata.Set(DuplicateHeader, "true")
		if err := i.cfg.Publisher.Publish(i.cfg.DiscardTopic, discarded); err != nil {
			return nil, fmt.Errorf("publish duplicate to %s: %w", i.cfg.DiscardTopic, err)
		}
		i.logger.Debug("Discarded duplicate message", fields)
		return nil, nil
	default:
		i.logger.Debug("Dropped duplicate message", fields)
		return nil, nil
	}
}

func (i *Interceptor) shouldRelease(err error) bool {
	if i.cfg.ReleaseOnFailure {
		return true
	}
	return i.cfg.ReleaseIf != nil && i.cfg.ReleaseIf(err)
}

func (i *Interceptor) release(ctx context.Context, key, uuid string) {
	// The message context may already be cancelled after a failure.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := i.guard.Release(ctx, key); err != nil {
		i.logger.Error("Failed to release idempotency key", err, loggingpkg.LogFields{
			"message_uuid": uuid,
			"key":          key,
		})
	}
}
