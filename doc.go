/*
Prazo bounds the execution time of Go function calls. A decorated call
returns the function's result, returns the function's own error, or is
abandoned once its deadline elapses and a timeout error is returned.

# Decorator

A decorator binds a named function to a timeout policy. The name registers
the function so it can also run in a worker process.

	var build = prazo.Decorate("reports.build", func(ctx context.Context, in core.Input) (any, error) {
		// Your business logic.
		...
		return report, nil
	}).WithTimeout(timeout.Policy{
		Timeout:    time.Second * 2,
		UseSignals: true,
	})

	func main() {
		process.Init()

		v, err := build.Call(ctx, "2024-Q1")
		if errors.Is(err, timeout.ErrTimeout) {
			...
		}
	}

process.Init must be the first statement of main (and of TestMain in tests
that run functions in worker processes). In a worker it runs the requested
function and exits; everywhere else it returns at once.

# Call-time overrides

Keyword arguments drive a single call and are stripped before the function
sees them:

	v, err := build.CallWith(ctx, core.Input{
		Args:   []any{"2024-Q1"},
		Kwargs: map[string]any{"dec_timeout": 5, "use_signals": false},
	})

See package timeout for the list of keywords and for the strategies.
*/
package prazo
