package process

import (
	"encoding/gob"
	"fmt"
	"sort"
	"sync"

	"github.com/aureliano/prazo/core"
)

type registry struct {
	mu    sync.RWMutex
	funcs map[string]core.Func
	errs  map[string]error
}

var reg = &registry{
	funcs: make(map[string]core.Func),
	errs:  make(map[string]error),
}

func init() {
	gob.Register([]any(nil))
	gob.Register(map[string]any(nil))
	gob.Register(&TransmissionError{})
	RegisterError(ErrPanic)
	RegisterError(ErrUnknownFunction)
}

// Register makes fn callable from a worker under name. Registering a name
// again replaces the previous callable.
func Register(name string, fn core.Func) {
	if name == "" {
		panic("process: Register with empty name")
	}
	if fn == nil {
		panic("process: Register of nil func " + name)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.funcs[name] = fn
}

// Registered reports whether a callable is registered under name.
func Registered(name string) bool {
	_, ok := lookup(name)
	return ok
}

// Lookup returns the callable registered under name.
func Lookup(name string) (core.Func, bool) {
	return lookup(name)
}

// Names returns the registered callable names in lexical order.
func Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	names := make([]string, 0, len(reg.funcs))
	for name := range reg.funcs {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// RegisterType records the concrete type of v so values of that type can
// travel inside arguments, results and errors.
func RegisterType(v any) {
	gob.Register(v)
}

// RegisterError records a sentinel error. A worker error with the same type
// and message is returned to the caller as err itself.
func RegisterError(err error) {
	if err == nil {
		return
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.errs[errorKey(fmt.Sprintf("%T", err), err.Error())] = err
}

func lookup(name string) (core.Func, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	fn, ok := reg.funcs[name]

	return fn, ok
}

func lookupError(typ, msg string) (error, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	err, ok := reg.errs[errorKey(typ, msg)]

	return err, ok
}

func errorKey(typ, msg string) string {
	return typ + "\x00" + msg
}
