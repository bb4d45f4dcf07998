/*
Package timeout bounds the execution time of a function call. A call either
returns the function's result, returns the function's own error, or is
abandoned when its deadline elapses and a timeout error is returned instead.

# Usage

	p := timeout.New()
	p.Timeout = time.Second * 2

	v, err := p.Run(ctx, core.Call{Name: "reports.build", Func: build, Input: in})
	if errors.Is(err, timeout.ErrTimeout) {
		// The deadline elapsed.
		...
	}

# Strategies

Every call is resolved into a Spec that picks exactly one strategy.

A call without timeout (zero or nil) runs the function directly.

With UseSignals the call runs under the process interval timer (package
alarm). The function keeps running in the caller's process and its context is
cancelled when the timer fires, so it must watch ctx.Done() to actually stop.
Only one chain of nested calls can own the timer at a time; a concurrent call
falls back to a worker process.

Without UseSignals the call runs in a worker process (package process), which
is terminated when the deadline elapses. The function must be registered with
process.Register and every value it receives or returns must be gob
encodable. HardTimeout counts the worker start-up against the deadline.

# Call-time overrides

The following keyword arguments are read from core.Input.Kwargs and removed
before the function sees them:

	dec_timeout        time.Duration, number of seconds, string or nil
	use_signals        bool
	timeout_exception  ErrorFactory, func(string) error or error
	exception_message  string; {name} and {seconds} are replaced
	dec_allow_eval     bool
	dec_hard_timeout   bool

# Expressions

A textual timeout that is neither a number of seconds nor a duration literal
is evaluated as a Lua expression when AllowEval is set. The expression sees
wrapped.name, instance, args and kwargs:

	p.Expression = "instance.x * 2"
	p.AllowEval = true

Expressions are trusted input. Nothing is sandboxed beyond the libraries
that are loaded.

# Listener

BeforeTimeout and AfterTimeout are called around the execution with the
resolved Spec.

	p.BeforeTimeout = func(s timeout.Spec) {
		fmt.Println("Before timeout.", s.Strategy)
	}
	p.AfterTimeout = func(s timeout.Spec, err error) {
		fmt.Println("After timeout.", err)
	}

# Metrics

Every call, resolved or not, sends a Metric to each of Observers. core.Metric
keeps the last one in memory; metrics.Collector exports them to Prometheus.
*/
package timeout
