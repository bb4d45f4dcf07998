package timeout

import (
	"errors"
	"fmt"
	"time"

	"github.com/aureliano/prazo/process"
)

var (
	// ErrTimeout matches every error returned when a call ran out of time,
	// whatever ErrorFactory built it.
	ErrTimeout = errors.New("call timed out")

	ErrInvalidTimeout  = errors.New("timeout must be >= 0")
	ErrInvalidOverride = errors.New("invalid override")
	ErrNoFunction      = errors.New("call has no function")
)

// ErrorFactory builds the error returned when a call times out.
type ErrorFactory func(message string) error

// Error is the default timeout error. Kind, when set, is the error given as
// timeout_exception and is reachable with errors.Is.
type Error struct {
	Name    string
	Timeout time.Duration
	Message string
	Kind    error
}

func init() {
	process.RegisterType(&Error{})
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	return target == ErrTimeout
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// factoryError keeps the message and chain of an ErrorFactory result while
// matching ErrTimeout.
type factoryError struct {
	err error
}

func (e *factoryError) Error() string {
	return e.err.Error()
}

func (e *factoryError) Unwrap() error {
	return e.err
}

func (e *factoryError) Is(target error) bool {
	return target == ErrTimeout
}

// timeoutError builds the error for an expired call described by s.
func (s Spec) timeoutError() error {
	if s.Error != nil {
		if err := s.Error(s.Message); err != nil {
			return &factoryError{err: err}
		}
	}

	return &Error{Name: s.Name, Timeout: s.Timeout, Message: s.Message, Kind: s.kind}
}

func factoryOf(v any) (ErrorFactory, error, bool) {
	switch f := v.(type) {
	case nil:
		return nil, nil, true
	case ErrorFactory:
		return f, nil, true
	case func(string) error:
		return f, nil, true
	case error:
		return nil, f, true
	default:
		return nil, nil, false
	}
}

func invalidOverride(key string, v any) error {
	return fmt.Errorf("%w: %s does not accept %T", ErrInvalidOverride, key, v)
}
