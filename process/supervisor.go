package process

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/aureliano/prazo/core"
	"github.com/aureliano/prazo/logging"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/hashicorp/go-multierror"
)

const (
	// EnvWorker marks a process started as a worker.
	EnvWorker = "PRAZO_WORKER"

	// DefaultJoinTimeout bounds the wait for a worker to exit once its
	// outcome was read or it was terminated.
	DefaultJoinTimeout = time.Second

	// ExtraFiles[0] is fd 3 in the child.
	workerFD = 3
)

var (
	ErrExpired         = errors.New("worker deadline expired")
	ErrWorkerExited    = errors.New("worker exited without an outcome")
	ErrProtocol        = errors.New("unexpected frame from worker")
	ErrPanic           = errors.New("worker function panicked")
	ErrUnknownFunction = errors.New("function is not registered in the worker")
	ErrInvalidTimeout  = errors.New("timeout must be > 0")
)

// Options drive one supervised call.
type Options struct {
	Timeout time.Duration

	// HardTimeout counts worker start-up against Timeout and skips the
	// ready acknowledgment.
	HardTimeout bool

	// CallID is logged on both sides of the pipe and reaches the function
	// through its context. It defaults to the call id carried by ctx.
	CallID string

	// OnStart is called with the worker pid right after it was spawned.
	OnStart func(pid int)
}

// Supervisor spawns one worker per call.
type Supervisor struct {
	Logger      log.Logger
	JoinTimeout time.Duration

	// Executable defaults to os.Executable().
	Executable string

	// Env is appended to the parent's environment.
	Env []string
}

type handle struct {
	cmd     *exec.Cmd
	r       *os.File
	frames  chan frameResult
	exited  chan struct{}
	waitErr error
	join    time.Duration
}

type frameResult struct {
	frame frame
	err   error
}

type callIDKey struct{}

// WithCallID returns a copy of ctx carrying id.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

// CallID returns the call id carried by ctx, or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

// New returns a Supervisor logging to logger.
func New(logger log.Logger) *Supervisor {
	return &Supervisor{Logger: logger, JoinTimeout: DefaultJoinTimeout}
}

// Run executes call in a new worker process. It returns the callable's
// result or error, ErrExpired when opts.Timeout elapsed first, or a
// *TransmissionError when the call cannot be sent to the worker.
func (s *Supervisor) Run(ctx context.Context, opts Options, call core.Call) (any, error) {
	if opts.Timeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	if err := Check(call); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parent := CallID(ctx)
	if opts.CallID == "" {
		opts.CallID = parent
	}
	logger := log.With(logging.OrNop(s.Logger), "call_id", opts.CallID, "function", call.Name)
	if parent != "" && parent != opts.CallID {
		logger = log.With(logger, "parent_call_id", parent)
	}

	var body bytes.Buffer
	req := request{Name: call.Name, CallID: opts.CallID, Hard: opts.HardTimeout, Input: call.Input}
	if err := gob.NewEncoder(&body).Encode(req); err != nil {
		return nil, &TransmissionError{Element: "call", Reason: err.Error(), Err: err}
	}

	start := time.Now()
	h, err := s.spawn(&body)
	if err != nil {
		return nil, err
	}
	level.Debug(logger).Log("msg", "worker spawned", "pid", h.cmd.Process.Pid, "hard_timeout", opts.HardTimeout)
	if opts.OnStart != nil {
		opts.OnStart(h.cmd.Process.Pid)
	}

	terminate := true
	defer func() {
		if cerr := h.close(terminate); cerr != nil {
			level.Warn(logger).Log("msg", "worker cleanup", "err", cerr)
		}
	}()

	if !opts.HardTimeout {
		if err := h.awaitReady(ctx); err != nil {
			return nil, err
		}
		level.Debug(logger).Log("msg", "worker ready", "startup", time.Since(start))
		start = time.Now()
	}

	timer := time.NewTimer(opts.Timeout - time.Since(start))
	defer timer.Stop()

	select {
	case fr := <-h.frames:
		return h.outcome(fr, &terminate)
	case <-timer.C:
		select {
		case fr := <-h.frames:
			return h.outcome(fr, &terminate)
		default:
		}
		level.Debug(logger).Log("msg", "deadline expired, terminating worker", "timeout", opts.Timeout)
		return nil, ErrExpired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Supervisor) spawn(body io.Reader) (*handle, error) {
	exe := s.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create worker channel: %w", err)
	}

	cmd := exec.Command(exe)
	cmd.Env = append(append(os.Environ(), s.Env...), EnvWorker+"=1")
	cmd.Stdin = body
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{w}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("spawn worker: %w", err)
	}
	// The child holds its own copy; EOF must follow the worker's exit.
	w.Close()
	children.Add(1)

	join := s.JoinTimeout
	if join <= 0 {
		join = DefaultJoinTimeout
	}

	h := &handle{
		cmd:    cmd,
		r:      r,
		frames: make(chan frameResult, 2),
		exited: make(chan struct{}),
		join:   join,
	}
	go h.reap()
	go h.read()

	return h, nil
}

func (h *handle) reap() {
	h.waitErr = h.cmd.Wait()
	close(h.exited)
}

func (h *handle) read() {
	dec := gob.NewDecoder(h.r)
	for {
		var fr frame
		if err := dec.Decode(&fr); err != nil {
			h.frames <- frameResult{err: err}
			return
		}
		h.frames <- frameResult{frame: fr}
		if fr.Kind == frameOutcome {
			return
		}
	}
}

func (h *handle) awaitReady(ctx context.Context) error {
	select {
	case fr := <-h.frames:
		if fr.err != nil {
			return h.failure(fr.err)
		}
		if fr.frame.Kind != frameReady {
			return fmt.Errorf("%w: kind %d while waiting for ready", ErrProtocol, fr.frame.Kind)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *handle) outcome(fr frameResult, terminate *bool) (any, error) {
	switch {
	case fr.err != nil:
		return nil, h.failure(fr.err)
	case fr.frame.Kind != frameOutcome || fr.frame.Outcome == nil:
		return nil, fmt.Errorf("%w: kind %d while waiting for outcome", ErrProtocol, fr.frame.Kind)
	}
	*terminate = false

	return fr.frame.Outcome.result()
}

// failure turns a channel read error into the caller's error. A closed
// channel means the worker died; its exit status is reported.
func (h *handle) failure(err error) error {
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("read worker channel: %w", err)
	}

	select {
	case <-h.exited:
	case <-time.After(h.join):
		return fmt.Errorf("%w: channel closed while the process is still running", ErrWorkerExited)
	}

	status := "exit status 0"
	if h.waitErr != nil {
		status = h.waitErr.Error()
	}

	return fmt.Errorf("%w: %s", ErrWorkerExited, status)
}

// close reaps the worker, terminating it first when asked, and releases the
// reader end of the channel. It never waits longer than twice the join
// timeout plus the time SIGKILL takes.
func (h *handle) close(terminate bool) error {
	var result *multierror.Error

	if terminate && h.alive() {
		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			result = multierror.Append(result, fmt.Errorf("terminate worker: %w", err))
		}
	}

	select {
	case <-h.exited:
	case <-time.After(h.join):
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			result = multierror.Append(result, fmt.Errorf("kill worker: %w", err))
		}
		<-h.exited
	}
	children.Add(-1)

	if err := h.r.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close worker channel: %w", err))
	}

	return result.ErrorOrNil()
}

func (h *handle) alive() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}
