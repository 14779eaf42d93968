package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired             = sterrors.New("handlerflow: service is required")
	ErrHandlerRequired             = sterrors.New("handlerflow: handler function is required")
	ErrConsumeQueueRequired        = sterrors.New("handlerflow: consume queue is required")
	ErrHandlerNameRequired         = sterrors.New("handlerflow: handler name is required")
	ErrHandlerNameTaken            = sterrors.New("handlerflow: handler name is already registered")
	ErrConsumeMessageTypeRequired  = sterrors.New("handlerflow: consume message type is required")
	ErrConsumeMessagePointerNeeded = sterrors.New("handlerflow: consume message type must be a pointer")
	ErrPublisherRequired           = sterrors.New("handlerflow: publisher is required")
	ErrTopicRequired               = sterrors.New("handlerflow: topic is required")
	ErrConfigRequired              = sterrors.New("handlerflow: configuration is required")
	ErrLoggerRequired              = sterrors.New("handlerflow: logger is required")
	ErrEventPayloadRequired        = sterrors.New("handlerflow: event payload is required")
	ErrStoreRequired               = sterrors.New("handlerflow: metadata store is required")
	ErrProviderRequired            = sterrors.New("handlerflow: metadata store provider is required")
)

// Null key and value messages are part of the external contract and must not change.
var (
	ErrKeyNull   = &InvalidArgumentError{Message: "'key' must not be null."}
	ErrValueNull = &InvalidArgumentError{Message: "'value' must not be null."}
)

// InvalidArgumentError reports a rejected argument. Error returns the message verbatim.
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return e.Message
}

// NewInvalidArgumentError returns an InvalidArgumentError for the given argument name.
func NewInvalidArgumentError(argument string) *InvalidArgumentError {
	return &InvalidArgumentError{Message: fmt.Sprintf("'%s' must not be null", argument)}
}

// InvalidMessageError is returned when a handler receives a nil message or a message without payload.
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string {
	return "handlerflow: invalid message: " + e.Reason
}

// MessagingError wraps a failure raised by handler logic together with the
// message it failed on.
type MessagingError struct {
	Handler     string
	MessageUUID string
	Cause       error
}

func (e *MessagingError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("handlerflow: handler %q failed on message %s", e.Handler, e.MessageUUID)
	}
	return fmt.Sprintf("handlerflow: handler %q failed on message %s: %v", e.Handler, e.MessageUUID, e.Cause)
}

func (e *MessagingError) Unwrap() error {
	return e.Cause
}

// WrapMessagingError wraps cause unless it already is a MessagingError.
func WrapMessagingError(handler, messageUUID string, cause error) error {
	if cause == nil {
		return nil
	}
	var existing *MessagingError
	if sterrors.As(cause, &existing) {
		return cause
	}
	return &MessagingError{Handler: handler, MessageUUID: messageUUID, Cause: cause}
}

// ConfigurationError reports a missing or inconsistent collaborator detected at first use.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("handlerflow: %s is misconfigured: %s", e.Component, e.Reason)
}

// ConfigValidationError wraps errors produced while validating the service configuration.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "handlerflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// UnprocessableEventError wraps payloads that failed validation or unmarshalling.
type UnprocessableEventError struct {
	EventMessage string
	Err          error
}

// NewUnprocessableEventError wraps err together with the offending payload.
func NewUnprocessableEventError(eventMessage string, err error) *UnprocessableEventError {
	return &UnprocessableEventError{EventMessage: eventMessage, Err: err}
}

func (e *UnprocessableEventError) Error() string {
	if e.Err == nil {
		return "unprocessable event: " + e.EventMessage
	}
	return "unprocessable event: " + e.EventMessage + " error: " + e.Err.Error()
}

func (e *UnprocessableEventError) Unwrap() error {
	return e.Err
}

// DuplicateMessageError is returned by receivers configured to reject messages
// whose idempotency key was already admitted.
type DuplicateMessageError struct {
	Key         string
	MessageUUID string
	Previous    string
}

func (e *DuplicateMessageError) Error() string {
	return fmt.Sprintf("handlerflow: duplicate message %s for key %q", e.MessageUUID, e.Key)
}
