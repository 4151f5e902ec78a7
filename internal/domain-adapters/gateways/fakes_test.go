package gateways

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

// fakeRunner records invocations and answers them from a handler keyed by
// "name arg0" (for example "xcrun notarytool" or "ditto -c")
type fakeRunner struct {
	mu       sync.Mutex
	calls    []gateways.CommandSpec
	handlers map[string]func(spec gateways.CommandSpec) (*gateways.CommandResult, error)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{handlers: map[string]func(gateways.CommandSpec) (*gateways.CommandResult, error){}}
}

func (f *fakeRunner) on(key string, fn func(spec gateways.CommandSpec) (*gateways.CommandResult, error)) {
	f.handlers[key] = fn
}

func (f *fakeRunner) Run(_ context.Context, spec gateways.CommandSpec) (*gateways.CommandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	f.mu.Unlock()

	key := spec.Name
	if len(spec.Args) > 0 {
		key += " " + spec.Args[0]
	}
	if fn, ok := f.handlers[key]; ok {
		return fn(spec)
	}
	if fn, ok := f.handlers[spec.Name]; ok {
		return fn(spec)
	}
	return &gateways.CommandResult{}, nil
}

func (f *fakeRunner) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

func (f *fakeRunner) commandLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.Join(append([]string{c.Name}, c.Args...), " "))
	}
	return out
}

func okResult(stdout string) (*gateways.CommandResult, error) {
	return &gateways.CommandResult{Stdout: stdout}, nil
}

func failResult(code int, stderr string) (*gateways.CommandResult, error) {
	return &gateways.CommandResult{ExitCode: code, Stderr: stderr}, fmt.Errorf("exited with code %d", code)
}

// writeLastArg creates the output file named by the final argument
func writeLastArg(content string) func(spec gateways.CommandSpec) (*gateways.CommandResult, error) {
	return func(spec gateways.CommandSpec) (*gateways.CommandResult, error) {
		out := spec.Args[len(spec.Args)-1]
		if err := os.WriteFile(out, []byte(content), 0o600); err != nil {
			return nil, err
		}
		return okResult("")
	}
}

type stepClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}
