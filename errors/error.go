package errors

import (
	stderrors "errors"

	"google.golang.org/grpc/codes"
)

// Class partitions connector failures by how the caller should react.
type Class int

const (
	// ClassConfiguration covers bad or missing configuration, including
	// unreadable credential files. Fatal at initialization, never retried.
	ClassConfiguration Class = iota + 1
	// ClassProvisioning covers broker rejections of subscription creation
	// other than already-exists. Surfaced as connection-unavailable.
	ClassProvisioning
	// ClassDelivery covers a sink rejecting a single message. Local to that
	// message, resolved by broker redelivery.
	ClassDelivery
	// ClassTransport covers network or broker failures during steady-state
	// receiving. Surfaced as connection-unavailable.
	ClassTransport
)

func (c Class) String() string {
	switch c {
	case ClassConfiguration:
		return "configuration"
	case ClassProvisioning:
		return "provisioning"
	case ClassDelivery:
		return "delivery"
	case ClassTransport:
		return "transport"
	}
	return "unknown"
}

type Error struct {
	Class      Class      `json:"class"`
	Message    string     `json:"message"`
	Cause      error      `json:"-"`
	StatusCode codes.Code `json:"status_code,omitempty"`
}

func NewError(class Class, message string, cause error) *Error {
	return &Error{
		Class:   class,
		Message: message,
		Cause:   cause,
	}
}

func (e *Error) WithStatusCode(code codes.Code) *Error {
	e.StatusCode = code
	return e
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) GetClass() Class {
	return e.Class
}

func (e *Error) GetStatusCode() codes.Code {
	return e.StatusCode
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ClassConfiguration, message, cause)
}

func NewProvisioningError(message string, cause error) *Error {
	return NewError(ClassProvisioning, message, cause)
}

func NewDeliveryError(message string, cause error) *Error {
	return NewError(ClassDelivery, message, cause)
}

func NewTransportError(message string, cause error) *Error {
	return NewError(ClassTransport, message, cause)
}

func classOf(err error) (Class, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Class, true
	}
	return 0, false
}

func IsConfiguration(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassConfiguration
}

func IsProvisioning(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassProvisioning
}

func IsDelivery(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassDelivery
}

func IsTransport(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassTransport
}

// Retriable reports whether the host may resolve the failure by re-running
// the connect sequence. Configuration failures are fatal; delivery failures
// are resolved per message by broker redelivery, not by reconnecting.
func Retriable(err error) bool {
	c, ok := classOf(err)
	if !ok {
		return false
	}
	return c == ClassProvisioning || c == ClassTransport
}

// StatusCode extracts the broker status code carried by the error, or
// codes.Unknown when the error carries none.
func StatusCode(err error) codes.Code {
	var e *Error
	if stderrors.As(err, &e) && e.StatusCode != 0 {
		return e.StatusCode
	}
	return codes.Unknown
}
