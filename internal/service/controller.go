// Package service starts and stops the containerised services through the
// session's compose front-end.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"meshnet/internal/engine"
	"meshnet/internal/failure"
	"meshnet/internal/fsutil"
	"meshnet/internal/manifest"
	"meshnet/internal/poll"
	"meshnet/internal/runner"
	"meshnet/internal/session"
)

// ErrEngineNotConfigured is returned when a service call precedes bootstrap.
var ErrEngineNotConfigured = errors.New("container engine not configured")

// ErrRestartUnsupported is returned by RestartEngine for engines that do
// not run inside a managed VM.
var ErrRestartUnsupported = errors.New("engine restart is only available for VM-backed engines")

// Machine is the VM lifecycle surface the controller drives.
type Machine interface {
	engine.MachineManager
	Release(ctx context.Context)
}

type Verifier interface {
	Verify(ctx context.Context, cfg engine.Config) (engine.Health, error)
}

// Dependencies wires a Controller. Machine is nil on hosts without a
// managed VM.
type Dependencies struct {
	Runner    runner.Runner
	Session   *session.Session
	Manifests *manifest.Materializer
	Machine   Machine
	Verifier  Verifier
	Attempts  int
	Delay     time.Duration
}

type Controller struct {
	runner    runner.Runner
	session   *session.Session
	manifests *manifest.Materializer
	machine   Machine
	verifier  Verifier
	retry     poll.Bound
	log       *slog.Logger
}

func New(deps Dependencies) *Controller {
	if deps.Runner == nil {
		deps.Runner = runner.New()
	}
	if deps.Attempts < 1 {
		deps.Attempts = 3
	}
	return &Controller{
		runner:    deps.Runner,
		session:   deps.Session,
		manifests: deps.Manifests,
		machine:   deps.Machine,
		verifier:  deps.Verifier,
		retry:     poll.Bound{Attempts: deps.Attempts, Interval: deps.Delay},
		log:       slog.With("component", "service"),
	}
}

func (c *Controller) engine() (engine.Config, error) {
	cfg, ok := c.session.Engine()
	if !ok {
		return engine.Config{}, ErrEngineNotConfigured
	}
	return cfg, nil
}

// Start brings up services with `compose up -d`, materializing manifests
// first. Failed attempts are retried with a fixed delay; exhaustion returns
// an EngineUnresponsive error.
func (c *Controller) Start(ctx context.Context, services ...manifest.Service) error {
	cfg, err := c.engine()
	if err != nil {
		return err
	}
	targets, err := c.manifests.Topology().Targets(services...)
	if err != nil {
		return err
	}
	for _, svc := range services {
		if _, err := c.manifests.Ensure(ctx, svc); err != nil {
			return fmt.Errorf("prepare %s manifests: %w", svc, err)
		}
	}

	cmd := cfg.Compose(c.manifests.ComposePath(), append([]string{"up", "-d"}, targets...)...)
	cmd.Dir = c.manifests.Dir()
	log := c.log.With("services", targets)

	res, err := poll.Await(ctx, c.retry, func(ctx context.Context) (bool, error) {
		out, err := c.runner.Run(ctx, cmd)
		if err != nil {
			return false, poll.Retry(err)
		}
		if err := out.Err(cmd); err != nil {
			return false, poll.Retry(err)
		}
		return true, nil
	}, poll.Between(func(ctx context.Context, attempt int, lastErr error) {
		log.Warn("compose up failed, retrying", "attempt", attempt, "of", c.retry.Attempts, "err", lastErr)
		engine.Remediate(ctx, cfg, c.machine)
	}))

	switch res {
	case poll.Ready:
		log.Info("services started")
		return nil
	case poll.Timeout:
		return failure.EngineUnresponsive("start "+strings.Join(targets, ","), err)
	default:
		return err
	}
}

// StopAll takes every service down. Failures are logged, never returned.
// The VM is stopped too when this session created it.
func (c *Controller) StopAll(ctx context.Context) {
	if cfg, err := c.engine(); err == nil && fsutil.Exists(c.manifests.ComposePath()) {
		cmd := cfg.Compose(c.manifests.ComposePath(), "down")
		cmd.Dir = c.manifests.Dir()
		out, err := c.runner.Run(ctx, cmd)
		if err == nil {
			err = out.Err(cmd)
		}
		if err != nil {
			c.log.Warn("compose down", "err", err)
		} else {
			c.log.Info("services stopped")
		}
	}
	if c.machine != nil {
		c.machine.Release(ctx)
	}
}

// Status returns the compose process listing as printed by the engine.
func (c *Controller) Status(ctx context.Context) (string, error) {
	cfg, err := c.engine()
	if err != nil {
		return "", err
	}
	if !fsutil.Exists(c.manifests.ComposePath()) {
		return "", fmt.Errorf("no services defined yet: %s does not exist", c.manifests.ComposePath())
	}
	cmd := cfg.Compose(c.manifests.ComposePath(), "ps")
	cmd.Dir = c.manifests.Dir()
	out, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if err := out.Err(cmd); err != nil {
		return "", err
	}
	return out.Stdout, nil
}

// RestartEngine restarts the VM behind the engine and verifies it answers.
func (c *Controller) RestartEngine(ctx context.Context) error {
	cfg, err := c.engine()
	if err != nil {
		return err
	}
	if c.machine == nil || !cfg.NeedsMachine {
		return ErrRestartUnsupported
	}
	if err := c.machine.Recover(ctx); err != nil {
		return fmt.Errorf("restart engine: %w", err)
	}
	if c.verifier == nil {
		return nil
	}
	if _, err := c.verifier.Verify(ctx, cfg); err != nil {
		return err
	}
	return nil
}

// CanRestartEngine reports whether RestartEngine applies to this session.
func (c *Controller) CanRestartEngine() bool {
	cfg, err := c.engine()
	return err == nil && c.machine != nil && cfg.NeedsMachine
}
