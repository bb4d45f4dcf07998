package process

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aureliano/prazo/core"
	"github.com/aureliano/prazo/logging"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

const (
	// EnvWorkerLogLevel sets the worker's log level; it defaults to "warn".
	EnvWorkerLogLevel = "PRAZO_WORKER_LOG_LEVEL"

	// TerminateGrace bounds how long a terminated worker waits for its own
	// workers to be reaped. It must stay below DefaultJoinTimeout.
	TerminateGrace = time.Millisecond * 750

	exitTerminated = 128 + int(syscall.SIGTERM)
)

// children counts the workers spawned by this process that are not reaped yet.
var children atomic.Int64

// Init serves the pending call and exits when the process was started as a
// worker; otherwise it returns immediately. Call it at the top of main (or
// TestMain), after every Register.
func Init() {
	if os.Getenv(EnvWorker) == "" {
		return
	}
	os.Unsetenv(EnvWorker)

	lvl := os.Getenv(EnvWorkerLogLevel)
	if lvl == "" {
		lvl = "warn"
	}
	logger := log.With(logging.New("logfmt", lvl, os.Stderr), "worker_pid", os.Getpid())

	// SIGTERM cancels the function's context so nested calls terminate their
	// own workers before this one exits.
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if !awaitChildren(TerminateGrace) {
			level.Warn(logger).Log("msg", "terminated with nested workers still running", "workers", children.Load())
		}
		os.Exit(exitTerminated)
	}()

	out := os.NewFile(uintptr(workerFD), "prazo-worker-channel")
	os.Exit(serve(ctx, os.Stdin, out, logger))
}

// awaitChildren reports whether every nested worker was reaped within grace.
func awaitChildren(grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for children.Load() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond * 5)
	}

	return true
}

// serve runs one request read from in and writes its frames to out, which
// is always closed. It returns the process exit code. ctx is handed to the
// function with the request's call id.
func serve(ctx context.Context, in io.Reader, out io.WriteCloser, logger log.Logger) int {
	defer out.Close()

	var req request
	if err := gob.NewDecoder(in).Decode(&req); err != nil {
		level.Error(logger).Log("msg", "decode request", "err", err)
		return 2
	}
	logger = log.With(logger, "call_id", req.CallID, "function", req.Name)

	enc := gob.NewEncoder(out)
	if !req.Hard {
		if err := enc.Encode(frame{Kind: frameReady}); err != nil {
			level.Error(logger).Log("msg", "send ready", "err", err)
			return 2
		}
	}

	var o *Outcome
	if fn, ok := lookup(req.Name); ok {
		level.Debug(logger).Log("msg", "calling function")
		o = invoke(WithCallID(ctx, req.CallID), fn, req.Input)
	} else {
		o = failure(fmt.Errorf("%w: %q", ErrUnknownFunction, req.Name))
	}

	fr := frame{Kind: frameOutcome, Outcome: o}
	if err := encodeErr(fr); err != nil {
		// Err stays empty so the error itself can travel back typed.
		fr.Outcome = failure(&TransmissionError{Element: "result", Reason: err.Error()})
	}
	if err := enc.Encode(fr); err != nil {
		level.Error(logger).Log("msg", "send outcome", "err", err)
		return 2
	}
	level.Debug(logger).Log("msg", "outcome sent", "failed", fr.Outcome.Failed)

	return 0
}

func invoke(ctx context.Context, fn core.Func, in core.Input) (o *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = failure(fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	v, err := fn(ctx, in)
	if err != nil {
		return failure(err)
	}

	return success(v)
}
