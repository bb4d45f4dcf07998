package prazo

import (
	"context"

	"github.com/aureliano/prazo/core"
	"github.com/aureliano/prazo/timeout"
)

// Decoration is a function decorated with a timeout policy.
type Decoration struct {
	name     string
	Supplier core.Func
	Instance any
	Timeout  *timeout.Policy
}

// Decorator is the interface that teaches how to call a function under a
// timeout policy.
type Decorator interface {
	WithTimeout(policy timeout.Policy) Decorator
	Bind(instance any) Decorator
	Name() string
	Call(ctx context.Context, args ...any) (any, error)
	CallWith(ctx context.Context, in core.Input) (any, error)
}

// WithTimeout decorates with a timeout policy.
func (d Decoration) WithTimeout(policy timeout.Policy) Decorator {
	d.Timeout = &policy
	return d
}

// Bind sets the receiving instance passed as core.Input.Instance.
func (d Decoration) Bind(instance any) Decorator {
	d.Instance = instance
	return d
}

// Name returns the name the function was registered with.
func (d Decoration) Name() string {
	return d.name
}

// Call runs the function with positional arguments.
func (d Decoration) Call(ctx context.Context, args ...any) (any, error) {
	return d.CallWith(ctx, core.Input{Args: args})
}

// CallWith runs the function with in. Override keywords found in in.Kwargs
// are applied to this call only and never reach the function. A bound
// instance is used when in.Instance is nil.
func (d Decoration) CallWith(ctx context.Context, in core.Input) (any, error) {
	switch {
	case d.name == "":
		return nil, ErrNameRequired
	case d.Supplier == nil:
		return nil, ErrFunctionRequired
	}

	if in.Instance == nil {
		in.Instance = d.Instance
	}

	policy := timeout.New()
	if d.Timeout != nil {
		policy = *d.Timeout
	}

	return policy.Run(ctx, core.Call{Name: d.name, Func: d.Supplier, Input: in})
}
