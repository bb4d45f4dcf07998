package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aureliano/prazo"
	"github.com/aureliano/prazo/core"
	"github.com/aureliano/prazo/process"
)

var errUserNotFound = errors.New("user not found")

type demo struct {
	decorator prazo.Decorator
	usage     string
}

var demos = map[string]demo{}

func register(name, usage string, fn core.Func) {
	demos[name] = demo{decorator: prazo.Decorate(name, fn), usage: usage}
}

func init() {
	process.RegisterError(errUserNotFound)

	register("demo.sleep", "sleep <ms>: sleeps and returns the slept duration", func(ctx context.Context, in core.Input) (any, error) {
		ms, err := intArg(in, 0)
		if err != nil {
			return nil, err
		}
		d := time.Duration(ms) * time.Millisecond
		select {
		case <-time.After(d):
			return d.String(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	register("demo.spin", "spin <ms>: busy loop ignoring cancellation", func(ctx context.Context, in core.Input) (any, error) {
		ms, err := intArg(in, 0)
		if err != nil {
			return nil, err
		}
		n := 0
		for end := time.Now().Add(time.Duration(ms) * time.Millisecond); time.Now().Before(end); {
			n++
		}
		return n, nil
	})
	register("demo.fail", "fail <message>: returns an error", func(ctx context.Context, in core.Input) (any, error) {
		return nil, errors.New(joinArgs(in))
	})
	register("demo.echo", "echo <args...>: returns the arguments", func(ctx context.Context, in core.Input) (any, error) {
		return joinArgs(in), nil
	})
	register("users.name", "name <id>: user 1 answers at once, others are slow", func(ctx context.Context, in core.Input) (any, error) {
		id, err := intArg(in, 0)
		if err != nil {
			return nil, err
		}
		if id == 1 {
			return "prazo", nil
		}

		time.Sleep(time.Millisecond * 350)
		return nil, errUserNotFound
	})
}

func intArg(in core.Input, i int) (int, error) {
	if len(in.Args) <= i {
		return 0, fmt.Errorf("argument %d is required", i+1)
	}
	n, ok := in.Args[i].(int)
	if !ok {
		return 0, fmt.Errorf("argument %d must be an integer, got %T", i+1, in.Args[i])
	}

	return n, nil
}

func joinArgs(in core.Input) string {
	parts := make([]string, len(in.Args))
	for i, a := range in.Args {
		parts[i] = fmt.Sprint(a)
	}

	return strings.Join(parts, " ")
}
