package expr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

const maxDepth = 32

var (
	ErrDisabled   = errors.New("expression evaluation is disabled")
	ErrNotNumeric = errors.New("expression did not yield a number")
	ErrNegative   = errors.New("expression yielded a negative number")
	ErrEmpty      = errors.New("empty expression")
)

// EvaluationError reports an expression that could not be turned into a
// timeout.
type EvaluationError struct {
	Expression string
	Err        error
}

// Bindings are the values reachable from an expression.
type Bindings struct {
	Wrapped  string
	Instance any
	Args     []any
	Kwargs   map[string]any
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate timeout expression %q: %v", e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Eval runs expression against b and returns the resulting number of seconds.
// A cancelled ctx aborts a long running expression.
func Eval(ctx context.Context, expression string, b Bindings) (float64, error) {
	if strings.TrimSpace(expression) == "" {
		return 0, &EvaluationError{Expression: expression, Err: ErrEmpty}
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	lua.OpenBase(L)
	lua.OpenMath(L)
	lua.OpenString(L)
	lua.OpenTable(L)
	L.SetTop(0)

	if ctx != nil {
		L.SetContext(ctx)
	}

	wrapped := L.NewTable()
	wrapped.RawSetString("name", lua.LString(b.Wrapped))
	L.SetGlobal("wrapped", wrapped)
	L.SetGlobal("instance", toValue(L, b.Instance, 0))
	L.SetGlobal("args", toValue(L, b.Args, 0))
	L.SetGlobal("kwargs", toValue(L, b.Kwargs, 0))

	secs, err := run(L, expression)
	if err != nil {
		return 0, &EvaluationError{Expression: expression, Err: err}
	}

	return secs, nil
}

func run(L *lua.LState, expression string) (secs float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	if err := L.DoString("return " + expression); err != nil {
		return 0, err
	}
	if L.GetTop() == 0 {
		return 0, ErrNotNumeric
	}

	return toSeconds(L.Get(1))
}

func toSeconds(lv lua.LValue) (float64, error) {
	var f float64
	switch v := lv.(type) {
	case lua.LNumber:
		f = float64(v)
	case lua.LString:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: got string %q", ErrNotNumeric, string(v))
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: got %s", ErrNotNumeric, lv.Type())
	}

	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return 0, fmt.Errorf("%w: got %v", ErrNotNumeric, f)
	case f < 0:
		return 0, fmt.Errorf("%w: %v", ErrNegative, f)
	default:
		return f, nil
	}
}

// toValue converts a Go value into its Lua counterpart.
func toValue(L *lua.LState, v any, depth int) lua.LValue {
	if v == nil || depth > maxDepth {
		return lua.LNil
	}

	switch val := v.(type) {
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case lua.LValue:
		return val
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		return toValue(L, rv.Elem().Interface(), depth+1)
	case reflect.Slice, reflect.Array:
		t := L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, toValue(L, rv.Index(i).Interface(), depth+1))
		}
		return t
	case reflect.Map:
		t := L.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			k := toValue(L, iter.Key().Interface(), depth+1)
			if k == lua.LNil {
				continue
			}
			t.RawSet(k, toValue(L, iter.Value().Interface(), depth+1))
		}
		return t
	case reflect.Struct:
		return structToTable(L, rv, depth)
	default:
		ud := L.NewUserData()
		ud.Value = v
		return ud
	}
}

// structToTable exposes every exported field under its Go name and, when
// present, its json tag name.
func structToTable(L *lua.LState, rv reflect.Value, depth int) *lua.LTable {
	t := L.NewTable()
	rt := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue
		}

		value := toValue(L, rv.Field(i).Interface(), depth+1)
		t.RawSetString(field.Name, value)

		if tag := field.Tag.Get("json"); tag != "" && tag != "-" {
			if name, _, _ := strings.Cut(tag, ","); name != "" {
				t.RawSetString(name, value)
			}
		}
	}

	return t
}
