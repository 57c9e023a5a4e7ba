package evaluation

import (
	"context"
	"errors"
	"fmt"
)

// #region sentinels

var (
	// ErrValidation marks a malformed request; nothing is persisted.
	ErrValidation = errors.New("validation error")
	// ErrJudgeUnavailable covers transport, auth, rate-limit and timeout failures of the judge.
	ErrJudgeUnavailable = errors.New("judge unavailable")
	// ErrJudgeMalformedResponse means the judge broke the response contract.
	ErrJudgeMalformedResponse = errors.New("judge malformed response")
	// ErrInvalidState is returned when an operation does not apply to the evaluation's status.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnknownQueueItem is returned when resolving an item that is not (or no longer) queued.
	ErrUnknownQueueItem = errors.New("unknown queue item")
	// ErrNotFound is returned for unknown evaluation ids.
	ErrNotFound = errors.New("not found")
	// ErrUnknownAlert is returned when acknowledging an alert id that does not exist.
	ErrUnknownAlert = errors.New("unknown alert")
)

// #endregion sentinels

// #region kinds

// ErrorKind is the normalized error category recorded on failed evaluations.
type ErrorKind string

const (
	KindValidation             ErrorKind = "VALIDATION"
	KindJudgeUnavailable       ErrorKind = "JUDGE_UNAVAILABLE"
	KindJudgeMalformedResponse ErrorKind = "JUDGE_MALFORMED_RESPONSE"
	KindInvalidState           ErrorKind = "INVALID_STATE"
	KindUnknownQueueItem       ErrorKind = "UNKNOWN_QUEUE_ITEM"
	KindNotFound               ErrorKind = "NOT_FOUND"
	KindInternal               ErrorKind = "INTERNAL"
)

// KindOf maps any error onto the taxonomy. Deadline errors count as judge
// unavailability since the judge call is the only step that can time out.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrJudgeMalformedResponse):
		return KindJudgeMalformedResponse
	case errors.Is(err, ErrJudgeUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindJudgeUnavailable
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrUnknownQueueItem):
		return KindUnknownQueueItem
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownAlert):
		return KindNotFound
	}
	return KindInternal
}

// #endregion kinds

// #region helpers

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// #endregion helpers
