package timeout_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/aureliano/prazo/alarm"
	"github.com/aureliano/prazo/core"
	"github.com/aureliano/prazo/process"
	"github.com/aureliano/prazo/timeout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errValue = errors.New("x")

type widget struct {
	X float64 `json:"x"`
}

func sleep(ctx context.Context, in core.Input) (any, error) {
	select {
	case <-time.After(time.Duration(in.Args[0].(int)) * time.Millisecond):
		return 42, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func init() {
	process.RegisterType(widget{})
	process.RegisterError(errValue)

	process.Register("timeout.sleep", sleep)
	process.Register("timeout.fail", func(ctx context.Context, in core.Input) (any, error) {
		return nil, errValue
	})
	process.Register("timeout.kwargs", func(ctx context.Context, in core.Input) (any, error) {
		return in.Kwargs, nil
	})
	process.Register("timeout.callID", func(ctx context.Context, in core.Input) (any, error) {
		return process.CallID(ctx), nil
	})
}

func TestMain(m *testing.M) {
	process.Init()
	os.Exit(m.Run())
}

func call(name string, in core.Input) core.Call {
	fn, _ := process.Lookup(name)
	return core.Call{Name: name, Func: fn, Input: in}
}

func sleepFor(ms int) core.Input {
	return core.Input{Args: []any{ms}}
}

func strategies(t *testing.T, test func(t *testing.T, p timeout.Policy)) {
	for _, signals := range []bool{true, false} {
		name := "process"
		if signals {
			name = "signals"
		}
		t.Run(name, func(t *testing.T) {
			p := timeout.New()
			p.UseSignals = signals
			test(t, p)
		})
	}
}

func TestNew(t *testing.T) {
	p := timeout.New()

	assert.Equal(t, time.Duration(0), p.Timeout)
	assert.True(t, p.UseSignals)
	assert.False(t, p.HardTimeout)
	assert.False(t, p.AllowEval)
	assert.Equal(t, process.DefaultJoinTimeout, p.JoinTimeout)
}

func TestRunExpires(t *testing.T) {
	strategies(t, func(t *testing.T, p timeout.Policy) {
		p.Timeout = time.Millisecond * 300

		start := time.Now()
		v, err := p.Run(context.Background(), call("timeout.sleep", sleepFor(3000)))
		elapsed := time.Since(start)

		assert.Nil(t, v)
		assert.ErrorIs(t, err, timeout.ErrTimeout)
		assert.EqualError(t, err, "Function timeout.sleep timed out after 0.3 seconds")
		assert.GreaterOrEqual(t, elapsed, time.Millisecond*280)
		assert.Less(t, elapsed, time.Second*2)

		var terr *timeout.Error
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, "timeout.sleep", terr.Name)
		assert.Equal(t, time.Millisecond*300, terr.Timeout)
	})
}

func TestRunReturnsResult(t *testing.T) {
	strategies(t, func(t *testing.T, p timeout.Policy) {
		p.Timeout = time.Second * 2

		v, err := p.Run(context.Background(), call("timeout.sleep", sleepFor(100)))

		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})
}

func TestRunPropagatesError(t *testing.T) {
	strategies(t, func(t *testing.T, p timeout.Policy) {
		p.Timeout = time.Second * 2

		_, err := p.Run(context.Background(), call("timeout.fail", core.Input{}))

		assert.Equal(t, errValue, err)
		assert.NotErrorIs(t, err, timeout.ErrTimeout)
	})
}

func TestRunOverrideTakesPrecedence(t *testing.T) {
	strategies(t, func(t *testing.T, p timeout.Policy) {
		p.Timeout = time.Millisecond * 200

		in := core.Input{Args: []any{500}, Kwargs: map[string]any{timeout.KeyTimeout: 3}}
		v, err := p.Run(context.Background(), call("timeout.sleep", in))
		require.NoError(t, err)
		assert.Equal(t, 42, v)

		_, err = p.Run(context.Background(), call("timeout.sleep", sleepFor(500)))
		assert.ErrorIs(t, err, timeout.ErrTimeout)
	})
}

func TestRunExpressionTimeout(t *testing.T) {
	strategies(t, func(t *testing.T, p timeout.Policy) {
		p.Expression = "instance.x"
		p.AllowEval = true

		in := core.Input{Instance: widget{X: 0.3}, Args: []any{3000}}
		start := time.Now()
		_, err := p.Run(context.Background(), call("timeout.sleep", in))

		assert.ErrorIs(t, err, timeout.ErrTimeout)
		assert.Less(t, time.Since(start), time.Second*2)
	})
}

func TestRunWithoutTimeoutCallsDirectly(t *testing.T) {
	p := timeout.New()
	var spec timeout.Spec
	p.BeforeTimeout = func(s timeout.Spec) { spec = s }

	v, err := p.Run(context.Background(), call("timeout.sleep", sleepFor(10)))

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, timeout.StrategyDirect, spec.Strategy)
	assert.True(t, spec.Unbounded)
}

func TestRunHardTimeout(t *testing.T) {
	p := timeout.New()
	p.UseSignals = false
	p.HardTimeout = true
	p.Timeout = time.Second * 3

	v, err := p.Run(context.Background(), call("timeout.sleep", sleepFor(50)))
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	in := core.Input{Args: []any{3000}, Kwargs: map[string]any{timeout.KeyTimeout: 0.3}}
	_, err = p.Run(context.Background(), call("timeout.sleep", in))
	assert.ErrorIs(t, err, timeout.ErrTimeout)
}

func TestRunStripsOverrides(t *testing.T) {
	strategies(t, func(t *testing.T, p timeout.Policy) {
		p.Timeout = time.Second * 3

		kwargs := map[string]any{
			"keep":                 "me",
			timeout.KeyTimeout:     2,
			timeout.KeyMessage:     "slow",
			timeout.KeyAllowEval:   false,
			timeout.KeyHardTimeout: false,
			timeout.KeyUseSignals:  p.UseSignals,
		}
		v, err := p.Run(context.Background(), call("timeout.kwargs", core.Input{Kwargs: kwargs}))

		require.NoError(t, err)
		assert.Equal(t, map[string]any{"keep": "me"}, v)
		assert.Len(t, kwargs, 6)
	})
}

func TestRunCustomErrors(t *testing.T) {
	errSlow := errors.New("slow")

	strategies(t, func(t *testing.T, p timeout.Policy) {
		p.Timeout = time.Millisecond * 200

		in := core.Input{Args: []any{2000}, Kwargs: map[string]any{
			timeout.KeyError:   errSlow,
			timeout.KeyMessage: "{name} exceeded {seconds}s",
		}}
		_, err := p.Run(context.Background(), call("timeout.sleep", in))
		assert.ErrorIs(t, err, errSlow)
		assert.ErrorIs(t, err, timeout.ErrTimeout)
		assert.EqualError(t, err, "timeout.sleep exceeded 0.2s")

		errCustom := errors.New("custom")
		p.Error = func(msg string) error { return fmt.Errorf("%w: %s", errCustom, msg) }
		p.Message = "late"
		_, err = p.Run(context.Background(), call("timeout.sleep", sleepFor(2000)))
		assert.EqualError(t, err, "custom: late")
		assert.ErrorIs(t, err, timeout.ErrTimeout)
		assert.ErrorIs(t, err, errCustom)
	})
}

func TestRunPassesCallID(t *testing.T) {
	strategies(t, func(t *testing.T, p timeout.Policy) {
		p.Timeout = time.Second * 5

		metric := core.NewMetric()
		p.Observers = []core.Observer{metric}

		v, err := p.Run(context.Background(), call("timeout.callID", core.Input{}))
		require.NoError(t, err)

		mr, ok := metric["timeout.Metric"].(timeout.Metric)
		require.True(t, ok)
		assert.Equal(t, mr.CallID, v)
	})
}

func TestRunListenersAndObservers(t *testing.T) {
	p := timeout.New()
	p.UseSignals = false
	p.Timeout = time.Millisecond * 200

	var before timeout.Spec
	var after error
	p.BeforeTimeout = func(s timeout.Spec) { before = s }
	p.AfterTimeout = func(s timeout.Spec, err error) { after = err }

	metric := core.NewMetric()
	p.Observers = []core.Observer{metric}

	_, err := p.Run(context.Background(), call("timeout.sleep", sleepFor(2000)))
	require.ErrorIs(t, err, timeout.ErrTimeout)

	assert.Equal(t, timeout.StrategyProcess, before.Strategy)
	assert.Equal(t, err, after)

	mr, ok := metric["timeout.Metric"].(timeout.Metric)
	require.True(t, ok)
	assert.Equal(t, "timeout.sleep", mr.ServiceID())
	assert.Len(t, mr.CallID, 26)
	assert.Equal(t, timeout.StatusTimedOut, mr.Status)
	assert.Equal(t, timeout.StrategyProcess, mr.Strategy)
	assert.False(t, mr.Fallback)
	assert.False(t, mr.Success())
	assert.Less(t, mr.StartedAt, mr.FinishedAt)
	assert.GreaterOrEqual(t, mr.PolicyDuration(), time.Millisecond*200)

	_, err = p.Run(context.Background(), call("timeout.fail", core.Input{}))
	require.Error(t, err)
	mr = metric["timeout.Metric"].(timeout.Metric)
	assert.Equal(t, timeout.StatusFailed, mr.Status)
	assert.Equal(t, errValue, mr.Error)
	assert.False(t, metric.Success())
}

func TestRunNestedSignals(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("interval timers are only used on linux")
	}

	inner := timeout.New()
	inner.Timeout = time.Millisecond * 200

	var innerSpec timeout.Spec
	inner.BeforeTimeout = func(s timeout.Spec) { innerSpec = s }

	outer := timeout.New()
	outer.Timeout = time.Second * 3
	outerFn := func(ctx context.Context, in core.Input) (any, error) {
		return inner.Run(ctx, core.Call{Name: "inner", Func: sleep, Input: sleepFor(2000)})
	}

	start := time.Now()
	_, err := outer.Run(context.Background(), core.Call{Name: "outer", Func: outerFn})

	assert.ErrorIs(t, err, timeout.ErrTimeout)
	assert.EqualError(t, err, "Function inner timed out after 0.2 seconds")
	assert.Less(t, time.Since(start), time.Second*2)
	assert.Equal(t, timeout.StrategyAlarm, innerSpec.Strategy)
}

func TestRunFallsBackWhenAlarmIsHeld(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("interval timers are only used on linux")
	}

	f, err := alarm.Arm(context.Background(), time.Second*30)
	require.NoError(t, err)
	defer f.Disarm()

	p := timeout.New()
	p.Timeout = time.Second * 2
	metric := core.NewMetric()
	p.Observers = []core.Observer{metric}

	v, err := p.Run(context.Background(), call("timeout.sleep", sleepFor(50)))

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	mr := metric["timeout.Metric"].(timeout.Metric)
	assert.Equal(t, timeout.StrategyProcess, mr.Strategy)
	assert.True(t, mr.Fallback)
}
