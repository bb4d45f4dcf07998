package process

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/aureliano/prazo/core"
)

type frameKind int

const (
	frameReady frameKind = iota + 1
	frameOutcome
)

type request struct {
	Name   string
	CallID string
	Hard   bool
	Input  core.Input
}

type frame struct {
	Kind    frameKind
	Outcome *Outcome
}

// Outcome is the terminal record a worker sends for one call.
type Outcome struct {
	Failed bool
	Value  any
	Err    *RemoteError
}

// RemoteError is an error raised in a worker whose type could not be
// rebuilt in the caller. Message is the original message, Type the original
// Go type name.
type RemoteError struct {
	Type    string
	Message string
	Cause   error
	Wrapped *RemoteError

	next error
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.next
}

func success(v any) *Outcome {
	return &Outcome{Value: v}
}

func failure(err error) *Outcome {
	return &Outcome{Failed: true, Err: encodeError(err)}
}

func (o *Outcome) result() (any, error) {
	if o.Failed {
		err := decodeError(o.Err)
		if err == nil {
			err = errors.New("worker reported a failure without an error")
		}
		return nil, err
	}

	return o.Value, nil
}

// encodeError keeps err as is when gob can carry it, otherwise records its
// type and message and walks its wrap chain.
func encodeError(err error) *RemoteError {
	if err == nil {
		return nil
	}

	re := &RemoteError{Type: fmt.Sprintf("%T", err), Message: err.Error()}
	if encodable(&RemoteError{Cause: err}) {
		re.Cause = err
		return re
	}
	re.Wrapped = encodeError(errors.Unwrap(err))

	return re
}

func decodeError(re *RemoteError) error {
	if re == nil {
		return nil
	}
	if re.Cause != nil {
		return re.Cause
	}
	if sentinel, ok := lookupError(re.Type, re.Message); ok {
		return sentinel
	}
	if next := decodeError(re.Wrapped); next != nil {
		re.next = next
	}

	return re
}

func encodable(v any) bool {
	return encodeErr(v) == nil
}

func encodeErr(v any) error {
	return gob.NewEncoder(io.Discard).Encode(v)
}
