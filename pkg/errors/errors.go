package errors

import "fmt"

// ErrorCode classifies call errors for the UI layer.
type ErrorCode string

const (
	ErrCodeCallInProgress    ErrorCode = "CALL_IN_PROGRESS"
	ErrCodeBusy              ErrorCode = "BUSY"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeNegotiationFailed ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeDeviceError       ErrorCode = "DEVICE_ERROR"
	ErrCodeSignalingError    ErrorCode = "SIGNALING_ERROR"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// CallError is an application error with a code and optional context.
type CallError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error.
func (e *CallError) WithContext(key string, value interface{}) *CallError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func New(code ErrorCode, message string) *CallError {
	return &CallError{Code: code, Message: message}
}

func Wrap(err error, code ErrorCode, message string) *CallError {
	return &CallError{Code: code, Message: message, Cause: err}
}

func NewCallInProgressError() *CallError {
	return New(ErrCodeCallInProgress, "another call is already in progress")
}

func NewBusyError() *CallError {
	return New(ErrCodeBusy, "callee is busy")
}

func NewTimeoutError(message string) *CallError {
	return New(ErrCodeTimeout, message)
}

func NewNegotiationError(err error) *CallError {
	return Wrap(err, ErrCodeNegotiationFailed, "media negotiation failed")
}

func NewDeviceError(err error) *CallError {
	return Wrap(err, ErrCodeDeviceError, "media device unavailable")
}

func NewSignalingError(err error) *CallError {
	return Wrap(err, ErrCodeSignalingError, "signaling failed")
}

// Code extracts the error code from an error chain, or ErrCodeInternal when
// the error carries none.
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if ce := AsCallError(err); ce != nil {
		return ce.Code
	}
	return ErrCodeInternal
}

// AsCallError walks the chain for a *CallError.
func AsCallError(err error) *CallError {
	for err != nil {
		if ce, ok := err.(*CallError); ok {
			return ce
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}
