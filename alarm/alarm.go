package alarm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Shortest interval programmed into the timer; a zero value would disarm it.
const minWait = time.Microsecond

var (
	ErrBusy        = errors.New("alarm slot is held by another caller")
	ErrExpired     = errors.New("alarm expired")
	ErrUnsupported = errors.New("interval timers are not supported on this platform")
	ErrInvalid     = errors.New("alarm duration must be > 0")
)

// Frame is one armed deadline in the slot.
type Frame struct {
	s        *slot
	deadline time.Time
	armedAt  time.Time
	foreign  time.Duration
	expired  chan struct{}
	once     sync.Once
	err      error
}

type slot struct {
	mu     sync.Mutex
	frames []*Frame
	start  sync.Once
	sigs   chan os.Signal
}

type frameKey struct{}

type result struct {
	value    any
	err      error
	panicked bool
	recover  any
}

var global = new(slot)

// armTimer programs the process interval timer; tests swap it.
var armTimer = setTimer

// Available reports whether Arm can be called with ctx right now.
func Available(ctx context.Context) bool {
	if !supported {
		return false
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	return global.owns(ctx)
}

// Arm pushes a frame expiring after d. The caller must Disarm it.
func Arm(ctx context.Context, d time.Duration) (*Frame, error) {
	return global.arm(ctx, d)
}

// Run calls fn under a deadline of d. If fn returns first its result is
// returned unchanged and a panic in fn is re-raised here. If the deadline
// elapses first Run returns ErrExpired and the context given to fn is
// cancelled.
func Run(ctx context.Context, d time.Duration, fn func(ctx context.Context) (any, error)) (v any, err error) {
	f, err := Arm(ctx, d)
	if err != nil {
		return nil, err
	}
	defer func() {
		if derr := f.Disarm(); derr != nil && err == nil {
			err = derr
		}
	}()

	runCtx, cancel := context.WithCancel(context.WithValue(ctx, frameKey{}, f))
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{panicked: true, recover: r}
			}
		}()
		value, err := fn(runCtx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.unwrap()
	case <-f.Expired():
		select {
		case r := <-done:
			return r.unwrap()
		default:
		}
		cancel()
		if err := f.Err(); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Expired is closed when the frame deadline elapses.
func (f *Frame) Expired() <-chan struct{} {
	return f.expired
}

func (f *Frame) Deadline() time.Time {
	return f.deadline
}

// Err is non-nil when the frame was released early because the timer could
// not be programmed; Expired is closed in that case too.
func (f *Frame) Err() error {
	select {
	case <-f.expired:
		return f.err
	default:
		return nil
	}
}

// Disarm pops the frame and every frame armed above it, then restores the
// timer state found below. Disarming twice is a no-op.
func (f *Frame) Disarm() error {
	return f.s.disarm(f)
}

func (f *Frame) expire() {
	f.fail(nil)
}

func (f *Frame) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.expired)
	})
}

func (r result) unwrap() (any, error) {
	if r.panicked {
		panic(r.recover)
	}
	return r.value, r.err
}

// owns must be called with s.mu held.
func (s *slot) owns(ctx context.Context) bool {
	n := len(s.frames)
	if n == 0 {
		return true
	}
	f, _ := ctx.Value(frameKey{}).(*Frame)

	return f == s.frames[n-1]
}

func (s *slot) arm(ctx context.Context, d time.Duration) (*Frame, error) {
	if !supported {
		return nil, ErrUnsupported
	}
	if d <= 0 {
		return nil, ErrInvalid
	}
	s.start.Do(s.listen)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.owns(ctx) {
		return nil, ErrBusy
	}

	now := time.Now()
	f := &Frame{s: s, deadline: now.Add(d), armedAt: now, expired: make(chan struct{})}
	if len(s.frames) == 0 {
		left, err := remaining()
		if err != nil {
			return nil, fmt.Errorf("read interval timer: %w", err)
		}
		f.foreign = left
	}

	s.frames = append(s.frames, f)
	if err := s.program(now); err != nil {
		s.frames = s.frames[:len(s.frames)-1]
		return nil, fmt.Errorf("arm interval timer: %w", err)
	}

	return f, nil
}

func (s *slot) disarm(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, cur := range s.frames {
		if cur == f {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	for _, orphan := range s.frames[idx+1:] {
		orphan.expire()
	}
	for i := idx; i < len(s.frames); i++ {
		s.frames[i] = nil
	}
	s.frames = s.frames[:idx]

	if len(s.frames) == 0 {
		return s.restore(f)
	}

	return s.program(time.Now())
}

// restore gives the timer back to whoever held it before the bottom frame.
func (s *slot) restore(bottom *Frame) error {
	if bottom.foreign <= 0 {
		return armTimer(0)
	}

	left := bottom.foreign - time.Since(bottom.armedAt)
	if left < minWait {
		left = minWait
	}

	return armTimer(left)
}

// program arms the timer for the earliest frame not yet expired, or disarms
// it when there is none. Must be called with s.mu held.
func (s *slot) program(now time.Time) error {
	var next time.Time
	for _, f := range s.frames {
		select {
		case <-f.expired:
			continue
		default:
		}
		if next.IsZero() || f.deadline.Before(next) {
			next = f.deadline
		}
	}

	if next.IsZero() {
		return armTimer(0)
	}

	wait := next.Sub(now)
	if wait < minWait {
		wait = minWait
	}

	return armTimer(wait)
}

func (s *slot) listen() {
	s.sigs = make(chan os.Signal, 1)
	notify(s.sigs)

	go func() {
		for range s.sigs {
			s.fire(time.Now())
		}
	}()
}

// fire expires every frame whose deadline has passed. Signals arriving early
// (a stale delivery, or another user of SIGALRM) only re-program the timer.
// Frames left pending when the timer cannot be re-programmed would never
// expire, so they are released with the error.
func (s *slot) fire(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.frames) == 0 {
		return
	}

	for _, f := range s.frames {
		if !now.Before(f.deadline) {
			f.expire()
		}
	}

	if err := s.program(now); err != nil {
		err = fmt.Errorf("re-arm interval timer: %w", err)
		for _, f := range s.frames {
			f.fail(err)
		}
	}
}
