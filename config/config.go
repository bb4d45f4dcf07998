// Package config loads timeout defaults from a YAML or JSON file.
//
//	timeout: 2.5          # seconds, a duration literal or an expression
//	use_signals: false
//	hard_timeout: false
//	allow_eval: true
//	message: "{name} is too slow"
//	join_timeout: 2s
//	log:
//	  format: json
//	  level: debug
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aureliano/prazo/logging"
	"github.com/aureliano/prazo/timeout"
	"github.com/ghodss/yaml"
	"github.com/go-kit/kit/log"
)

var ErrInvalid = errors.New("invalid configuration")

type File struct {
	Timeout     any    `json:"timeout,omitempty"`
	UseSignals  *bool  `json:"use_signals,omitempty"`
	HardTimeout bool   `json:"hard_timeout,omitempty"`
	AllowEval   bool   `json:"allow_eval,omitempty"`
	Message     string `json:"message,omitempty"`
	JoinTimeout string `json:"join_timeout,omitempty"`
	Log         Log    `json:"log"`
}

type Log struct {
	Format string `json:"format"`
	Level  string `json:"level"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{Log: Log{Format: "logfmt", Level: "info"}}
}

// Load reads path over Default. An empty path returns Default.
func Load(path string) (File, error) {
	f := Default()
	if path == "" {
		return f, nil
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("could not read file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return f, fmt.Errorf("could not unmarshal file(%s): %w", path, err)
	}

	return f, nil
}

// Logger builds the logger described by the log section.
func (f File) Logger() log.Logger {
	return logging.New(f.Log.Format, f.Log.Level, os.Stderr)
}

// Policy converts f into a timeout policy logging to logger.
func (f File) Policy(logger log.Logger) (timeout.Policy, error) {
	p := timeout.New()
	p.Logger = logger
	p.HardTimeout = f.HardTimeout
	p.AllowEval = f.AllowEval
	p.Message = f.Message
	if f.UseSignals != nil {
		p.UseSignals = *f.UseSignals
	}

	if f.JoinTimeout != "" {
		d, err := time.ParseDuration(f.JoinTimeout)
		if err != nil || d <= 0 {
			return p, fmt.Errorf("%w: join_timeout %q", ErrInvalid, f.JoinTimeout)
		}
		p.JoinTimeout = d
	}

	switch v := f.Timeout.(type) {
	case nil:
	case float64:
		if v < 0 || math.IsNaN(v) || v > math.MaxInt64/float64(time.Second) {
			return p, fmt.Errorf("%w: timeout %v", ErrInvalid, v)
		}
		p.Timeout = time.Duration(v * float64(time.Second))
	case string:
		text := strings.TrimSpace(v)
		if d, ok := literal(text); ok {
			p.Timeout = d
		} else {
			p.Expression = text
		}
	default:
		return p, fmt.Errorf("%w: timeout of type %T", ErrInvalid, f.Timeout)
	}
	if p.Timeout < 0 {
		return p, fmt.Errorf("%w: timeout %s", ErrInvalid, p.Timeout)
	}

	return p, nil
}

func literal(text string) (time.Duration, bool) {
	if secs, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(secs) && math.Abs(secs) < math.MaxInt64/float64(time.Second) {
		return time.Duration(secs * float64(time.Second)), true
	}
	if d, err := time.ParseDuration(text); err == nil {
		return d, true
	}

	return 0, false
}
