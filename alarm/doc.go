/*
Package alarm bounds calls with the process interval timer (ITIMER_REAL).

A process owns a single real-time interval timer. This package models it as
one explicitly owned slot: every Arm pushes a frame, every Disarm pops it and
restores the previous state, so nested uses stack and never interleave.

	v, err := alarm.Run(ctx, time.Second*2, func(ctx context.Context) (any, error) {
		return work(ctx)
	})
	if errors.Is(err, alarm.ErrExpired) {
		// The deadline elapsed first.
	}

Interruption is cooperative. When the timer fires, Run stops waiting and
cancels the context handed to the function; the function itself keeps running
until it observes that cancellation.

Nesting is tracked through the context: a Run started with a context derived
from an armed frame nests inside it. Any other caller that finds the slot held
gets ErrBusy, and Available reports false for it. Platforms without interval
timers always report false.
*/
package alarm
