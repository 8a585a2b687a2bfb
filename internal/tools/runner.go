package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Result is the captured outcome of one command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandRunner abstracts host command execution so callers can be tested without a shell.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, err
	}
	res.ExitCode = 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		res.ExitCode = 127
	}
	return res, err
}

// RecordingRunner records every invocation and returns a fixed result. Used by tests.
type RecordingRunner struct {
	Calls  []string
	Result Result
	Err    error
}

func (r *RecordingRunner) Run(_ context.Context, name string, args ...string) (Result, error) {
	r.Calls = append(r.Calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	return r.Result, r.Err
}
