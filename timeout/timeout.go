package timeout

import (
	"context"
	"errors"
	"time"

	"github.com/aureliano/prazo/alarm"
	"github.com/aureliano/prazo/core"
	"github.com/aureliano/prazo/logging"
	"github.com/aureliano/prazo/process"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/oklog/ulid/v2"
)

const (
	StatusSucceeded = iota
	StatusTimedOut
	StatusFailed
)

// Policy holds the decoration-time defaults of a timeout. Expression, when
// set, takes the place of Timeout.
type Policy struct {
	Timeout     time.Duration
	Expression  string
	UseSignals  bool
	HardTimeout bool
	AllowEval   bool
	Error       ErrorFactory
	Message     string

	// JoinTimeout bounds the wait for a worker process to exit.
	JoinTimeout time.Duration

	Logger    log.Logger
	Observers []core.Observer

	BeforeTimeout func(s Spec)
	AfterTimeout  func(s Spec, err error)
}

// Metric describes one supervised call.
type Metric struct {
	ID         string
	CallID     string
	Strategy   Strategy
	Fallback   bool
	Timeout    time.Duration
	Status     int
	StartedAt  time.Time
	FinishedAt time.Time
	Error      error
}

// New returns a policy without timeout that prefers signals.
func New() Policy {
	return Policy{
		Timeout:     0,
		UseSignals:  true,
		JoinTimeout: process.DefaultJoinTimeout,
	}
}

// Run resolves call against p and executes it with the chosen strategy. It
// returns the function's result or error, or the timeout error when the
// deadline elapsed first.
func (p Policy) Run(ctx context.Context, call core.Call) (any, error) {
	m := &Metric{ID: call.Name, CallID: ulid.Make().String(), StartedAt: time.Now()}
	logger := log.With(logging.OrNop(p.Logger), "call_id", m.CallID, "function", call.Name)
	if parent := process.CallID(ctx); parent != "" {
		logger = log.With(logger, "parent_call_id", parent)
	}
	ctx = process.WithCallID(ctx, m.CallID)

	spec, call, err := p.Resolve(ctx, call)
	if err != nil {
		level.Debug(logger).Log("msg", "resolve timeout", "err", err)
		p.finish(m, false, err)
		return nil, err
	}
	m.Strategy, m.Fallback, m.Timeout = spec.Strategy, spec.Fallback, spec.Timeout
	if spec.Fallback {
		level.Debug(logger).Log("msg", "signals unavailable, using a worker process")
	}

	if p.BeforeTimeout != nil {
		p.BeforeTimeout(spec)
	}

	v, expired, err := p.execute(ctx, &spec, call, m.CallID, logger)
	m.Strategy, m.Fallback = spec.Strategy, spec.Fallback
	if expired {
		level.Info(logger).Log("msg", "call timed out", "strategy", spec.Strategy, "timeout", spec.Timeout)
		err = spec.timeoutError()
	}

	if p.AfterTimeout != nil {
		p.AfterTimeout(spec, err)
	}
	p.finish(m, expired, err)

	return v, err
}

// execute runs call and reports whether its deadline elapsed.
func (p Policy) execute(ctx context.Context, spec *Spec, call core.Call, callID string, logger log.Logger) (any, bool, error) {
	switch spec.Strategy {
	case StrategyDirect:
		v, err := call.Invoke(ctx)
		return v, false, err
	case StrategyAlarm:
		v, err := alarm.Run(ctx, spec.Timeout, call.Invoke)
		switch {
		case errors.Is(err, alarm.ErrBusy) || errors.Is(err, alarm.ErrUnsupported):
			level.Debug(logger).Log("msg", "alarm unavailable, using a worker process", "err", err)
			spec.Strategy, spec.Fallback = StrategyProcess, true
		case errors.Is(err, alarm.ErrExpired):
			return nil, true, nil
		default:
			return v, false, err
		}
	}

	sup := process.New(logger)
	if p.JoinTimeout > 0 {
		sup.JoinTimeout = p.JoinTimeout
	}
	opts := process.Options{Timeout: spec.Timeout, HardTimeout: spec.HardTimeout, CallID: callID}

	v, err := sup.Run(ctx, opts, call)
	if errors.Is(err, process.ErrExpired) {
		return nil, true, nil
	}

	return v, false, err
}

func (p Policy) finish(m *Metric, expired bool, err error) {
	m.FinishedAt = time.Now()
	m.Error = err
	switch {
	case expired:
		m.Status = StatusTimedOut
	case err == nil:
		m.Status = StatusSucceeded
	default:
		m.Status = StatusFailed
	}

	for _, o := range p.Observers {
		o.Observe(*m)
	}
}

func (m Metric) ServiceID() string {
	return m.ID
}

func (m Metric) PolicyDuration() time.Duration {
	return m.FinishedAt.Sub(m.StartedAt)
}

func (m Metric) Success() bool {
	return m.Status == StatusSucceeded
}
