package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"meshnet/internal/failure"
	"meshnet/internal/fsutil"
	"meshnet/internal/platform"
	"meshnet/internal/runner"
)

// Module is the Python module that implements the VPN node.
const Module = "meshnet.core.vpn_node"

// Dependencies wires a Launcher. Venv is the resolved virtual environment
// used when VIRTUAL_ENV is unset. Registry is optional.
type Dependencies struct {
	Runner   runner.Runner
	Registry *Registry
	GOOS     string
	Elevated func() bool
	Getenv   func(string) string
	Venv     string
	WorkDir  string
}

type Launcher struct {
	runner   runner.Runner
	registry *Registry
	goos     string
	elevated func() bool
	getenv   func(string) string
	venv     string
	workDir  string
	log      *slog.Logger
}

func NewLauncher(deps Dependencies) *Launcher {
	if deps.Runner == nil {
		deps.Runner = runner.New()
	}
	if deps.GOOS == "" {
		deps.GOOS = platform.Current().GOOS
	}
	if deps.Elevated == nil {
		deps.Elevated = platform.Elevated
	}
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}
	return &Launcher{
		runner:   deps.Runner,
		registry: deps.Registry,
		goos:     deps.GOOS,
		elevated: deps.Elevated,
		getenv:   deps.Getenv,
		venv:     deps.Venv,
		workDir:  deps.WorkDir,
		log:      slog.With("component", "node"),
	}
}

// Python resolves the interpreter of the active virtual environment.
func (l *Launcher) Python() (string, error) {
	var candidates []string
	if env := l.getenv("VIRTUAL_ENV"); env != "" {
		candidates = append(candidates, env)
	}
	if l.venv != "" {
		candidates = append(candidates, l.venv)
	}
	for _, dir := range candidates {
		py := filepath.Join(dir, "bin", "python")
		if l.goos == "windows" {
			py = filepath.Join(dir, "Scripts", "python.exe")
		}
		if fsutil.Exists(py) {
			return py, nil
		}
	}
	return "", failure.MissingDependency("launch node",
		"no python virtual environment found; activate one or create %q", l.venv)
}

// Command builds the invocation for req, prefixed with sudo when the
// process is not elevated on a unix host.
func (l *Launcher) Command(req LaunchRequest) (runner.Cmd, error) {
	sudo := false
	if !l.elevated() {
		hint := platform.ElevationHint(l.goos)
		if !platform.Unix(l.goos) {
			return runner.Cmd{}, failure.PrivilegeMissing("launch node",
				errors.New("the VPN node needs administrator privileges"), hint)
		}
		if _, err := l.runner.LookPath("sudo"); err != nil {
			return runner.Cmd{}, failure.PrivilegeMissing("launch node",
				fmt.Errorf("sudo not available: %w", err), hint)
		}
		sudo = true
	}

	py, err := l.Python()
	if err != nil {
		return runner.Cmd{}, err
	}
	args := append([]string{"-m", Module}, req.Args()...)
	c := runner.Cmd{Name: py, Args: args, Dir: l.workDir, Attach: true}
	if sudo {
		c.Args = append([]string{c.Name}, c.Args...)
		c.Name = "sudo"
	}
	return c, nil
}

// Launch runs the VPN node in the foreground until it exits. A non-zero
// exit is reported as missing privileges unless ctx was cancelled. The node
// holds its registry record, and so its tunnel address, while it runs; a
// failed launch gives the record back.
func (l *Launcher) Launch(ctx context.Context, req LaunchRequest, role Role) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid node request: %w", err)
	}
	c, err := l.Command(req)
	if err != nil {
		return err
	}

	recorded := l.record(ctx, req, role)
	l.log.Info("starting vpn node", "node", req.NodeID, "tun", req.TunAddress, "server", req.ServerAddress)
	res, err := l.runner.Run(ctx, c)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = res.Err(c)
		if err != nil {
			err = failure.PrivilegeMissing("launch node", err, platform.ElevationHint(l.goos))
		}
	} else {
		err = fmt.Errorf("start vpn node: %w", err)
	}
	if err != nil && recorded {
		if derr := l.registry.Delete(context.WithoutCancel(ctx), req.NodeID); derr != nil {
			l.log.Warn("forget node", "node", req.NodeID, "err", derr)
		}
	}
	return err
}

func (l *Launcher) record(ctx context.Context, req LaunchRequest, role Role) bool {
	if l.registry == nil || req.NodeID == "" {
		return false
	}
	rec := Record{
		Name:       req.NodeID,
		Role:       role,
		TunAddress: req.TunAddress,
		Server:     req.ServerAddress,
		LaunchedAt: time.Now(),
	}
	if err := l.registry.Save(ctx, rec); err != nil {
		l.log.Warn("record node", "node", req.NodeID, "err", err)
		return false
	}
	return true
}
