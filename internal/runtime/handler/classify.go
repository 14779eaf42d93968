package handler

import (
	"context"
	"errors"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
)

// ErrorCategory is the coarse failure kind used to tag failure timers.
type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryDuplicate  ErrorCategory = "duplicate"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier maps a handler error onto an ErrorCategory.
type ErrorClassifier func(error) ErrorCategory

// DefaultErrorClassifier recognises the error types produced by this module.
func DefaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}

	var (
		unprocessable *errspkg.UnprocessableEventError
		invalidArg    *errspkg.InvalidArgumentError
		invalidMsg    *errspkg.InvalidMessageError
		duplicate     *errspkg.DuplicateMessageError
	)
	switch {
	case errors.As(err, &unprocessable), errors.As(err, &invalidArg), errors.As(err, &invalidMsg):
		return ErrorCategoryValidation
	case errors.As(err, &duplicate):
		return ErrorCategoryDuplicate
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryDownstream
	case errors.Is(err, errspkg.ErrPublisherRequired), errors.Is(err, errspkg.ErrTopicRequired):
		return ErrorCategoryTransport
	}
	return ErrorCategoryOther
}
