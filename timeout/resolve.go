package timeout

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/aureliano/prazo/alarm"
	"github.com/aureliano/prazo/core"
	"github.com/aureliano/prazo/expr"
	"github.com/aureliano/prazo/process"
)

// Keyword arguments read and removed from core.Input.Kwargs before the
// function runs.
const (
	KeyTimeout     = "dec_timeout"
	KeyUseSignals  = "use_signals"
	KeyError       = "timeout_exception"
	KeyMessage     = "exception_message"
	KeyAllowEval   = "dec_allow_eval"
	KeyHardTimeout = "dec_hard_timeout"
)

// DefaultMessage is used when no message is configured. {name} and
// {seconds} are replaced in every message.
const DefaultMessage = "Function {name} timed out after {seconds} seconds"

type Strategy string

const (
	StrategyDirect  Strategy = "direct"
	StrategyAlarm   Strategy = "alarm"
	StrategyProcess Strategy = "process"
)

// Spec is the resolved configuration of one call.
type Spec struct {
	Name        string
	Timeout     time.Duration
	Unbounded   bool
	UseSignals  bool
	HardTimeout bool
	Error       ErrorFactory
	Message     string
	Expression  string
	Strategy    Strategy

	// Fallback is set when signals were asked for but the call runs in a
	// worker process.
	Fallback bool

	kind error
}

// Resolve merges p with the overrides found in call and picks a strategy.
// The returned call carries a copy of the input without override keywords.
func (p Policy) Resolve(ctx context.Context, call core.Call) (Spec, core.Call, error) {
	s := Spec{
		Name:        call.Name,
		UseSignals:  p.UseSignals,
		HardTimeout: p.HardTimeout,
		Error:       p.Error,
		Message:     p.Message,
		Expression:  p.Expression,
	}
	allowEval := p.AllowEval

	var raw any = p.Timeout
	if p.Expression != "" {
		raw = p.Expression
	}

	in := call.Input.Clone()
	if v, ok := take(in.Kwargs, KeyTimeout); ok {
		raw = v
	}
	if v, ok := take(in.Kwargs, KeyUseSignals); ok {
		b, ok := v.(bool)
		if !ok {
			return Spec{}, call, invalidOverride(KeyUseSignals, v)
		}
		s.UseSignals = b
	}
	if v, ok := take(in.Kwargs, KeyError); ok {
		f, kind, ok := factoryOf(v)
		if !ok {
			return Spec{}, call, invalidOverride(KeyError, v)
		}
		s.Error, s.kind = f, kind
	}
	if v, ok := take(in.Kwargs, KeyMessage); ok {
		msg, ok := v.(string)
		if !ok {
			return Spec{}, call, invalidOverride(KeyMessage, v)
		}
		s.Message = msg
	}
	if v, ok := take(in.Kwargs, KeyAllowEval); ok {
		b, ok := v.(bool)
		if !ok {
			return Spec{}, call, invalidOverride(KeyAllowEval, v)
		}
		allowEval = b
	}
	if v, ok := take(in.Kwargs, KeyHardTimeout); ok {
		b, ok := v.(bool)
		if !ok {
			return Spec{}, call, invalidOverride(KeyHardTimeout, v)
		}
		s.HardTimeout = b
	}
	call.Input = in

	if text, ok := raw.(string); ok {
		s.Expression = text
		d, err := evaluate(ctx, text, allowEval, call)
		if err != nil {
			return Spec{}, call, err
		}
		raw = d
	}

	d, err := duration(raw)
	if err != nil {
		return Spec{}, call, err
	}
	s.Timeout = d
	s.Unbounded = d == 0

	if s.Message == "" {
		s.Message = DefaultMessage
	}
	s.Message = strings.NewReplacer(
		"{name}", s.Name,
		"{seconds}", strconv.FormatFloat(d.Seconds(), 'f', -1, 64),
	).Replace(s.Message)

	if call.Func == nil {
		call.Func, _ = process.Lookup(call.Name)
	}

	switch {
	case s.Unbounded:
		s.Strategy = StrategyDirect
	case s.UseSignals && alarm.Available(ctx):
		s.Strategy = StrategyAlarm
	default:
		s.Strategy = StrategyProcess
		s.Fallback = s.UseSignals
	}

	if s.Strategy == StrategyProcess {
		if err := process.Check(call); err != nil {
			return Spec{}, call, err
		}
	} else if call.Func == nil {
		return Spec{}, call, fmt.Errorf("%w: %q", ErrNoFunction, call.Name)
	}

	return s, call, nil
}

func take(kwargs map[string]any, key string) (any, bool) {
	v, ok := kwargs[key]
	if ok {
		delete(kwargs, key)
	}

	return v, ok
}

// evaluate turns a textual timeout into a duration. Plain numbers of seconds
// and duration literals never need evaluation.
func evaluate(ctx context.Context, text string, allowEval bool, call core.Call) (time.Duration, error) {
	trimmed := strings.TrimSpace(text)
	if secs, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return seconds(secs)
	}
	if d, err := time.ParseDuration(trimmed); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("%w: got %s", ErrInvalidTimeout, d)
		}
		return d, nil
	}

	if !allowEval {
		return 0, &expr.EvaluationError{Expression: text, Err: expr.ErrDisabled}
	}

	secs, err := expr.Eval(ctx, text, expr.Bindings{
		Wrapped:  call.Name,
		Instance: call.Input.Instance,
		Args:     call.Input.Args,
		Kwargs:   call.Input.Kwargs,
	})
	if err != nil {
		return 0, err
	}

	return seconds(secs)
}

// duration converts a timeout value to a duration. nil and zero mean no
// timeout. Numbers are seconds.
func duration(v any) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}
	if d, ok := v.(time.Duration); ok {
		if d < 0 {
			return 0, fmt.Errorf("%w: got %s", ErrInvalidTimeout, d)
		}
		return d, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return seconds(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return seconds(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return seconds(rv.Float())
	default:
		return 0, invalidOverride(KeyTimeout, v)
	}
}

func seconds(secs float64) (time.Duration, error) {
	switch {
	case math.IsNaN(secs) || math.IsInf(secs, 0) || secs > math.MaxInt64/float64(time.Second):
		return 0, fmt.Errorf("%w: got %v seconds", ErrInvalidTimeout, secs)
	case secs < 0:
		return 0, fmt.Errorf("%w: got %v seconds", ErrInvalidTimeout, secs)
	}

	return time.Duration(secs * float64(time.Second)), nil
}
