package prazo

import (
	"errors"

	"github.com/aureliano/prazo/core"
	"github.com/aureliano/prazo/process"
)

var (
	// Function name is required.
	ErrNameRequired = errors.New("function name is required")

	// Function is required.
	ErrFunctionRequired = errors.New("function is required")
)

// Decorate creates a decorator for fn and registers fn under name so it can
// also run in a worker process. Call it before process.Init, typically from
// a package-level variable.
//
// Returns a decorator without timeout.
func Decorate(name string, fn core.Func) Decorator {
	d := Decoration{name: name, Supplier: fn}
	if name != "" && fn != nil {
		process.Register(name, fn)
	}

	return d
}
