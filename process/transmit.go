package process

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/aureliano/prazo/core"
)

const maxInspectDepth = 64

// TransmissionError reports a part of a call that cannot be sent to a
// worker process. Element names it, for example args[1], kwargs["cb"],
// instance.Conn or callable "reports.build".
type TransmissionError struct {
	Element string
	Reason  string
	Err     error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("%s cannot be transmitted to a worker process: %s", e.Element, e.Reason)
}

func (e *TransmissionError) Unwrap() error {
	return e.Err
}

// Check returns a *TransmissionError describing the first element of call
// that cannot cross the process boundary, or nil. The worker runs the
// function registered under call.Name, so a call.Func other than that one
// is rejected.
func Check(call core.Call) error {
	registered, ok := lookup(call.Name)
	if !ok {
		return &TransmissionError{
			Element: fmt.Sprintf("callable %q", call.Name),
			Reason:  "it is not registered; register it with process.Register before process.Init runs",
		}
	}
	if call.Func != nil && reflect.ValueOf(call.Func).Pointer() != reflect.ValueOf(registered).Pointer() {
		return &TransmissionError{
			Element: fmt.Sprintf("callable %q", call.Name),
			Reason:  "a different function is registered under this name",
		}
	}

	in := call.Input
	if err := inspect("instance", in.Instance); err != nil {
		return err
	}
	for i, arg := range in.Args {
		if err := inspect(fmt.Sprintf("args[%d]", i), arg); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(in.Kwargs))
	for k := range in.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := inspect(fmt.Sprintf("kwargs[%q]", k), in.Kwargs[k]); err != nil {
			return err
		}
	}

	return nil
}

func inspect(path string, v any) error {
	if v == nil {
		return nil
	}
	if err := walk(path, reflect.ValueOf(v), 0, make(map[uintptr]bool)); err != nil {
		return err
	}

	holder := struct{ V any }{V: v}
	if !encodable(holder) {
		err := encodeErr(holder)
		return &TransmissionError{Element: path, Reason: err.Error(), Err: err}
	}

	return nil
}

// walk looks for values gob would refuse at the top level or drop silently
// inside structs.
func walk(path string, rv reflect.Value, depth int, seen map[uintptr]bool) error {
	if !rv.IsValid() || depth > maxInspectDepth {
		return nil
	}

	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return nil
		}
		return &TransmissionError{
			Element: path,
			Reason:  fmt.Sprintf("values of type %s cannot be serialized", rv.Type()),
		}
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		if seen[rv.Pointer()] {
			return nil
		}
		seen[rv.Pointer()] = true
		return walk(path, rv.Elem(), depth+1, seen)
	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return walk(path, rv.Elem(), depth+1, seen)
	case reflect.Struct:
		rt := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			if rt.Field(i).PkgPath != "" {
				continue
			}
			if err := walk(path+"."+rt.Field(i).Name, rv.Field(i), depth+1, seen); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := walk(fmt.Sprintf("%s[%d]", path, i), rv.Index(i), depth+1, seen); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if err := walk(fmt.Sprintf("%s[%v]", path, iter.Key()), iter.Value(), depth+1, seen); err != nil {
				return err
			}
		}
	}

	return nil
}
