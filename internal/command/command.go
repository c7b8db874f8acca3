// Package command runs external programs behind an interface so that callers
// (CEC control, ping, neighbor table, network scan) can be tested without them.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Runner executes an external command and returns its standard output.
type Runner interface {
	// Run executes name with args, feeding stdin if non-empty.
	// A non-zero exit status is reported as an error together with any output
	// that was produced, so callers can still inspect partial results.
	Run(ctx context.Context, stdin string, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes the command and returns stdout.
func (ExecRunner) Run(ctx context.Context, stdin string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
			}
			return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Call records a single invocation seen by FakeRunner.
type Call struct {
	Stdin string
	Name  string
	Args  []string
}

// Line returns the command line as a single space-separated string.
func (c Call) Line() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Response is a scripted result for FakeRunner.
type Response struct {
	Output []byte
	Err    error
}

// FakeRunner is a test double that returns scripted output keyed by program name.
// It is safe for concurrent use.
type FakeRunner struct {
	mu sync.Mutex

	// Responses maps a program name to the result returned for it.
	Responses map[string]Response

	// Calls records every invocation in order.
	Calls []Call
}

// NewFakeRunner creates a FakeRunner with no scripted responses.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Responses: make(map[string]Response)}
}

// Set scripts the output and error returned for name.
func (f *FakeRunner) Set(name string, output string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[name] = Response{Output: []byte(output), Err: err}
}

// Run records the call and returns the scripted response.
// Unscripted programs fail as if they were not installed.
func (f *FakeRunner) Run(_ context.Context, stdin string, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Stdin: stdin, Name: name, Args: args})
	resp, ok := f.Responses[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, exec.ErrNotFound)
	}
	return resp.Output, resp.Err
}

// CallsTo returns the recorded invocations of name.
func (f *FakeRunner) CallsTo(name string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var calls []Call
	for _, c := range f.Calls {
		if c.Name == name {
			calls = append(calls, c)
		}
	}
	return calls
}
