package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshnet/cmd/meshnet/ui"
	"meshnet/config"
	"meshnet/internal/bootstrap"
	"meshnet/internal/console"
	"meshnet/internal/engine"
	"meshnet/internal/failure"
	"meshnet/internal/logging"
	"meshnet/internal/manifest"
	"meshnet/internal/node"
	"meshnet/internal/platform"
	"meshnet/internal/provision"
	"meshnet/internal/runner"
	"meshnet/internal/service"
	"meshnet/internal/session"
	"meshnet/internal/vm"
)

const cleanupTimeout = 2 * time.Minute

// app holds the components of one interactive session.
type app struct {
	cfg      *config.Config
	host     platform.Host
	runner   runner.Runner
	session  *session.Session
	machine  *vm.Manager
	services *service.Controller
	registry *node.Registry
	launcher *node.Launcher
}

func loadConfig(flags globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath, flags.workDir)
	if err != nil {
		return nil, err
	}
	if !flags.debug && cfg.LogLevel != "" {
		if err := logging.Configure(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	slog.Debug("config loaded", "path", cfg.Source, "workdir", cfg.WorkDir)
	return cfg, nil
}

func materializer(cfg *config.Config) *manifest.Materializer {
	p := manifest.DefaultParams()
	p.DiscoveryBind = cfg.Discovery.Bind
	p.DiscoveryPort = cfg.Discovery.Port
	p.WebUIPort = cfg.WebUI.Port
	return manifest.New(cfg.WorkDir, cfg.LockPath(), p)
}

func newApp(cfg *config.Config) (*app, error) {
	host := platform.Current()
	a := &app{
		cfg:     cfg,
		host:    host,
		runner:  runner.New(),
		session: session.New(host.GOOS),
	}

	if vm.Required(a.host.GOOS) {
		memory, err := cfg.Engine.Machine.MemoryMiB()
		if err != nil {
			return nil, err
		}
		disk, err := cfg.Engine.Machine.DiskGiB()
		if err != nil {
			return nil, err
		}
		a.machine = vm.NewWithDependencies(vm.Dependencies{
			Driver:  &vm.PodmanDriver{Runner: a.runner},
			Session: a.session,
			Spec: vm.Spec{
				Name:      cfg.Engine.Machine.Name,
				CPUs:      cfg.Engine.Machine.CPUs,
				MemoryMiB: memory,
				DiskGiB:   disk,
			},
			Timing: vm.Timing{
				PollBound:    cfg.Retry.PollBound,
				PollInterval: cfg.Retry.PollInterval,
				Settle:       cfg.Retry.SettleDelay,
			},
		})
		a.session.OnCleanup(a.machine.Release)
	}

	controller := service.Dependencies{
		Runner:    a.runner,
		Session:   a.session,
		Manifests: materializer(cfg),
		Verifier:  engine.NewVerifier(a.runner, a.engineMachine(), cfg.Retry.MaxAttempts, cfg.Retry.Delay),
		Attempts:  cfg.Retry.MaxAttempts,
		Delay:     cfg.Retry.Delay,
	}
	if a.machine != nil {
		controller.Machine = a.machine
	}
	a.services = service.New(controller)

	registry, err := node.OpenRegistry(cfg.RegistryPath())
	if err != nil {
		slog.Warn("node registry unavailable", "path", cfg.RegistryPath(), "err", err)
	} else {
		a.registry = registry
	}
	a.launcher = node.NewLauncher(node.Dependencies{
		Runner:   a.runner,
		Registry: a.registry,
		GOOS:     a.host.GOOS,
		Elevated: func() bool { return a.host.Elevated },
		Venv:     cfg.VenvPath(),
		WorkDir:  cfg.WorkDir,
	})
	return a, nil
}

// engineMachine keeps a nil manager from becoming a non-nil interface.
func (a *app) engineMachine() engine.MachineManager {
	if a.machine == nil {
		return nil
	}
	return a.machine
}

func (a *app) close() {
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			slog.Debug("close node registry", "err", err)
		}
	}
}

func (a *app) bootstrap(ctx context.Context) error {
	steps := ui.NewStepOutput(os.Stderr)
	defer steps.Close()

	b := bootstrap.New(bootstrap.Dependencies{
		Locator: engine.NewLocator(engine.Dependencies{
			Runner:     a.runner,
			Machine:    a.engineMachine(),
			RemoteHost: a.cfg.Engine.RemoteHost,
		}),
		Provisioner: provision.NewWithDependencies(provision.Dependencies{
			Runner:        a.runner,
			Machine:       a.engineMachine(),
			ToolsDir:      a.cfg.ToolsDir(),
			DockerVersion: a.cfg.Engine.DockerVersion,
			RemoteHost:    a.cfg.Engine.RemoteHost,
			PromptRemoteHost: func(ctx context.Context) (string, error) {
				return ui.Prompt("Remote engine host", "ssh://user@host",
					"set engine.remote_host or "+config.EnvPrefix+"_ENGINE_REMOTE_HOST")
			},
		}),
		Verifier: engine.NewVerifier(a.runner, a.engineMachine(), a.cfg.Retry.MaxAttempts, a.cfg.Retry.Delay),
		Tracer:   steps.Tracer("meshnet/bootstrap"),
	})
	return b.Run(ctx, a.session)
}

func (a *app) console() *console.Console {
	deps := console.Dependencies{
		Services: spinnerServices{a.services},
		Launcher: a.launcher,
		View:     ui.NewView(os.Stdout),
		Input:    console.NewLines(os.Stdin, os.Stdout),
		Node: console.NodeDefaults{
			Server:    a.cfg.ServerAddress(),
			Network:   a.cfg.VPN.Network,
			LocalPort: a.cfg.VPN.Port,
		},
		WebUI: a.cfg.WebUI.Enabled,
	}
	if a.registry != nil {
		deps.Nodes = a.registry
	}
	return console.New(deps)
}

func runMenu(ctx context.Context, flags globalFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		a.session.Cleanup(cleanupCtx)
	}()

	if err := a.bootstrap(ctx); err != nil {
		switch {
		case interrupted(ctx, err):
			return nil
		case failure.KindOf(err) == failure.KindEngineUnresponsive:
			fmt.Fprintln(os.Stderr, ui.WarnMsg("%v", err))
			if hint := failure.HintOf(err); hint != "" {
				fmt.Fprintln(os.Stderr, "  "+ui.Muted(hint))
			}
		default:
			return err
		}
	}

	if eng, ok := a.session.Engine(); ok {
		fmt.Fprint(os.Stdout, ui.KeyValues("",
			ui.KV("Engine", eng.Kind.String()),
			ui.KV("Command", eng.Engine().String()),
			ui.KV("Portable", fmt.Sprint(a.session.UsingPortable())),
			ui.KV("Work dir", cfg.WorkDir),
		))
	}

	if err := a.console().Run(ctx); err != nil && !interrupted(ctx, err) {
		return err
	}
	return nil
}

func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, ctx.Err()))
}

// spinnerServices animates the slow controller operations.
type spinnerServices struct {
	*service.Controller
}

func (s spinnerServices) Start(ctx context.Context, services ...manifest.Service) error {
	return ui.RunWithSpinner(ctx, fmt.Sprintf("Starting %v", services), func(ctx context.Context) error {
		return s.Controller.Start(ctx, services...)
	})
}

func (s spinnerServices) RestartEngine(ctx context.Context) error {
	return ui.RunWithSpinner(ctx, "Restarting container engine", s.Controller.RestartEngine)
}
