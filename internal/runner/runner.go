// Package runner executes external programs: container engines, compose
// front-ends, package managers and the VPN node interpreter.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Cmd describes one invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string
	Env  []string
	// Attach connects the process to the runner's terminal streams instead
	// of capturing output. Result.Stdout and Result.Stderr stay empty.
	Attach bool
}

// Command builds a captured invocation of name with args.
func Command(name string, args ...string) Cmd {
	return Cmd{Name: name, Args: args}
}

func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the output of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (r Result) OK() bool { return r.ExitCode == 0 }

// Err returns nil for a zero exit code, otherwise an error naming the
// command, its exit code and trimmed stderr.
func (r Result) Err(c Cmd) error {
	if r.OK() {
		return nil
	}
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		return fmt.Errorf("%s failed (exit %d)", c, r.ExitCode)
	}
	return fmt.Errorf("%s failed (exit %d): %s", c, r.ExitCode, msg)
}

// Runner runs external programs.
//
// A non-zero exit is reported through Result.ExitCode with a nil error.
// The error is reserved for processes that could not be started.
type Runner interface {
	Run(ctx context.Context, c Cmd) (Result, error)
	LookPath(name string) (string, error)
}

// ErrNotFound is returned by LookPath when a program is not installed.
var ErrNotFound = exec.ErrNotFound

// Exec runs programs with os/exec.
type Exec struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// New returns an Exec attached to the process's own terminal streams.
func New() *Exec {
	return &Exec{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

func (e *Exec) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (e *Exec) Run(ctx context.Context, c Cmd) (Result, error) {
	if c.Name == "" {
		return Result{}, errors.New("run: command name is required")
	}
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	if c.Attach {
		cmd.Stdin = e.Stdin
		cmd.Stdout = e.Stdout
		cmd.Stderr = e.Stderr
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	slog.Debug("exec", "component", "runner", "cmd", c.String())
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("exec %s: %w", c.Name, err)
	}
	return res, nil
}
