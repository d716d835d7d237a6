package conn

import "errors"

var (
	// ErrRequestNotAllowed is returned when a request is sent after Shutdown.
	ErrRequestNotAllowed = errors.New("request not allowed")
	// ErrClosed is returned when the connection can no longer carry messages.
	ErrClosed = errors.New("connection closed")
	// ErrRequestCancelled is returned when a pending request was dropped
	// without a response, typically because the connection went away.
	ErrRequestCancelled = errors.New("request cancelled")
	// ErrRequestTimedOut matches every *RequestTimedOutError.
	ErrRequestTimedOut = errors.New("request timed out")

	ErrBadRequest             = errors.New("bad request")
	ErrCSeqDifferenceTooLarge = errors.New("cseq difference too large")
	ErrDecodeTimeout          = errors.New("decode timeout")
	ErrAlreadyRunning         = errors.New("connection already running")
	ErrWriteQueueFull         = errors.New("write queue full")
)

type TimeoutType int

const (
	// TimeoutShort is the timeout refreshed by Continue responses.
	TimeoutShort TimeoutType = iota + 1
	// TimeoutLong is the absolute timeout.
	TimeoutLong
)

func (t TimeoutType) String() string {
	switch t {
	case TimeoutShort:
		return "short"
	case TimeoutLong:
		return "long"
	}
	return "unknown"
}

type RequestTimedOutError struct {
	Type TimeoutType
}

func (e *RequestTimedOutError) Error() string {
	return "request timed out (" + e.Type.String() + ")"
}

func (e *RequestTimedOutError) Is(target error) bool {
	return target == ErrRequestTimedOut
}
