// Package engine finds a usable container engine and checks that it keeps
// answering.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"meshnet/internal/runner"
)

// ErrNotFound means neither engine family is usable on this host.
var ErrNotFound = errors.New("no usable container engine found")

// MachineManager is the part of the VM lifecycle the engine layer needs.
type MachineManager interface {
	EnsureRunning(ctx context.Context) error
	Recover(ctx context.Context) error
}

type Dependencies struct {
	Runner runner.Runner
	// Ping probes the Docker API. Defaults to PingDocker.
	Ping func(ctx context.Context, host string) error
	// Machine is set on hosts where the secondary engine runs inside a VM.
	Machine    MachineManager
	RemoteHost string
}

type Locator struct {
	runner     runner.Runner
	ping       func(ctx context.Context, host string) error
	machine    MachineManager
	remoteHost string
	log        *slog.Logger
}

func NewLocator(deps Dependencies) *Locator {
	if deps.Runner == nil {
		deps.Runner = runner.New()
	}
	if deps.Ping == nil {
		deps.Ping = PingDocker
	}
	return &Locator{
		runner:     deps.Runner,
		ping:       deps.Ping,
		machine:    deps.Machine,
		remoteHost: deps.RemoteHost,
		log:        slog.With("component", "engine"),
	}
}

// Locate returns the first usable engine. Docker wins whenever it answers;
// Podman is only considered when Docker is absent or dead.
func (l *Locator) Locate(ctx context.Context) (Config, error) {
	if cfg, ok := l.primary(ctx); ok {
		return cfg, nil
	}
	cfg, ok, err := l.secondary(ctx)
	if err != nil {
		return Config{}, err
	}
	if ok {
		return cfg, nil
	}
	return Config{}, ErrNotFound
}

func (l *Locator) primary(ctx context.Context) (Config, bool) {
	if _, err := l.runner.LookPath("docker"); err != nil {
		l.log.Debug("docker not installed")
		return Config{}, false
	}
	if err := l.alive(ctx); err != nil {
		if hint := permissionHint(err); hint != "" {
			l.log.Warn("docker present but unusable", "err", err, "hint", hint)
		} else {
			l.log.Info("docker present but not responding", "err", err)
		}
		return Config{}, false
	}

	cfg := Config{Kind: KindDocker, EngineCommand: "docker", RemoteHost: l.remoteHost}
	cfg.ComposeCommand = l.dockerCompose(ctx)
	l.log.Info("using docker", "compose", cfg.ComposeCommand, "host", l.remoteHost)
	return cfg, true
}

// alive asks the API first and falls back to the CLI, which also honours
// docker contexts the SDK does not read. Both target the remote host when
// one is configured.
func (l *Locator) alive(ctx context.Context) error {
	apiErr := l.ping(ctx, l.remoteHost)
	if apiErr == nil {
		return nil
	}
	probe := Config{EngineCommand: "docker", RemoteHost: l.remoteHost}
	c := probe.Engine("info", "--format", "{{.ServerVersion}}")
	res, err := l.runner.Run(ctx, c)
	if err != nil {
		return errors.Join(apiErr, err)
	}
	if err := res.Err(c); err != nil {
		return errors.Join(apiErr, err)
	}
	return nil
}

func (l *Locator) dockerCompose(ctx context.Context) []string {
	c := runner.Command("docker", "compose", "version")
	if res, err := l.runner.Run(ctx, c); err == nil && res.OK() {
		return []string{"docker", "compose"}
	}
	if _, err := l.runner.LookPath("docker-compose"); err == nil {
		return []string{"docker-compose"}
	}
	l.log.Warn("no compose front-end found, assuming the docker compose plugin")
	return []string{"docker", "compose"}
}

func (l *Locator) secondary(ctx context.Context) (Config, bool, error) {
	if _, err := l.runner.LookPath("podman"); err != nil {
		l.log.Debug("podman not installed")
		return Config{}, false, nil
	}
	cfg := Config{Kind: KindPodman, EngineCommand: "podman", NeedsMachine: l.machine != nil}
	if l.machine != nil {
		if err := l.machine.EnsureRunning(ctx); err != nil {
			return Config{}, false, fmt.Errorf("bring up podman machine: %w", err)
		}
	}
	cfg.ComposeCommand = PodmanCompose(l.runner)
	l.log.Info("using podman", "compose", cfg.ComposeCommand, "machine", cfg.NeedsMachine)
	return cfg, true, nil
}

// PodmanCompose prefers the standalone podman-compose over `podman compose`.
func PodmanCompose(r runner.Runner) []string {
	if _, err := r.LookPath("podman-compose"); err == nil {
		return []string{"podman-compose"}
	}
	return []string{"podman", "compose"}
}
