package core

import (
	"context"
	"reflect"
	"time"
)

// Func is the callable supervised by a timeout policy.
type Func func(ctx context.Context, in Input) (any, error)

// Input carries the arguments of one call. Instance is nil when the callable
// has no receiver.
type Input struct {
	Instance any
	Args     []any
	Kwargs   map[string]any
}

// Call binds a named callable to the arguments of a single invocation.
type Call struct {
	Name  string
	Func  Func
	Input Input
}

// MetricRecorder is the contract every metric must follow.
type MetricRecorder interface {
	ServiceID() string
	PolicyDuration() time.Duration
	Success() bool
}

// Observer receives the metric of every supervised call.
type Observer interface {
	Observe(mr MetricRecorder)
}

// Metric gathers the last metric of each recorder type. It is not safe for
// concurrent use.
type Metric map[string]MetricRecorder

// Clone returns a copy of in whose Args and Kwargs can be modified without
// touching the caller's values.
func (in Input) Clone() Input {
	out := Input{Instance: in.Instance}
	if in.Args != nil {
		out.Args = make([]any, len(in.Args))
		copy(out.Args, in.Args)
	}
	if in.Kwargs != nil {
		out.Kwargs = make(map[string]any, len(in.Kwargs))
		for k, v := range in.Kwargs {
			out.Kwargs[k] = v
		}
	}

	return out
}

// Invoke runs the callable with the bound input.
func (c Call) Invoke(ctx context.Context) (any, error) {
	return c.Func(ctx, c.Input)
}

func NewMetric() Metric {
	return make(Metric)
}

func (m Metric) Observe(mr MetricRecorder) {
	if mr == nil {
		return
	}
	m[reflect.TypeOf(mr).String()] = mr
}

func (m Metric) ServiceID() string {
	return "call-chain"
}

func (m Metric) PolicyDuration() time.Duration {
	sum := time.Duration(0)
	for _, mr := range m {
		sum += mr.PolicyDuration()
	}

	return sum
}

func (m Metric) Success() bool {
	for _, mr := range m {
		if !mr.Success() {
			return false
		}
	}

	return true
}
