package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Metadata keys read when building a JobContext.
const (
	MetadataKeyRetryCount = "handlerflow_retry_count"
	MetadataKeyHandler    = "handlerflow_handler"
	MetadataKeyTopic      = "handlerflow_topic"
	MetadataKeyHistory    = "handlerflow_history"
)

// JobContext provides information about a job execution to hooks.
type JobContext struct {
	// HandlerName is the name of the handler processing the job.
	HandlerName string
	// Topic is the topic/queue the message was received from.
	Topic string
	// MessageUUID is the unique identifier of the message.
	MessageUUID string
	// Metadata contains the message metadata.
	Metadata message.Metadata
	// Context is the context associated with the message.
	Context context.Context
	// StartedAt is when the job started processing.
	StartedAt time.Time
	// Duration is how long the job took (only set in OnJobDone and OnJobError).
	Duration time.Duration
	// RetryCount is the number of times this message has been retried.
	RetryCount int
}

// NewJobContext describes msg as seen by the named handler. Empty handler and
// topic fall back to the message metadata.
func NewJobContext(handlerName, topic string, msg *message.Message, startedAt time.Time) JobContext {
	if handlerName == "" {
		handlerName = msg.Metadata.Get(MetadataKeyHandler)
	}
	if topic == "" {
		topic = msg.Metadata.Get(MetadataKeyTopic)
	}

	retryCount := 0
	if raw := msg.Metadata.Get(MetadataKeyRetryCount); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			retryCount = n
		}
	}

	return JobContext{
		HandlerName: handlerName,
		Topic:       topic,
		MessageUUID: msg.UUID,
		Metadata:    msg.Metadata,
		Context:     msg.Context(),
		StartedAt:   startedAt,
		RetryCount:  retryCount,
	}
}

// Hooks defines callbacks for job lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type Hooks struct {
	// OnJobStart is called when a handler begins processing a message.
	OnJobStart func(ctx JobContext)

	// OnJobDone is called when a handler successfully completes processing.
	OnJobDone func(ctx JobContext)

	// OnJobError is called when a handler returns an error.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two Hooks. The hooks from other are called after the hooks from h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnJobStart: chain(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chain(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErr(h.OnJobError, other.OnJobError),
	}
}

// Empty reports whether no hook is set.
func (h Hooks) Empty() bool {
	return h.OnJobStart == nil && h.OnJobDone == nil && h.OnJobError == nil
}

func (h Hooks) start(ctx JobContext) {
	if h.OnJobStart != nil {
		h.OnJobStart(ctx)
	}
}

func (h Hooks) finish(ctx JobContext, err error) {
	if err != nil {
		if h.OnJobError != nil {
			h.OnJobError(ctx, err)
		}
		return
	}
	if h.OnJobDone != nil {
		h.OnJobDone(ctx)
	}
}

func chain(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErr(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}
