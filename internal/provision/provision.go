// Package provision acquires a container engine when the host has none.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"meshnet/internal/engine"
	"meshnet/internal/failure"
	"meshnet/internal/fsutil"
	"meshnet/internal/runner"
)

const (
	DefaultDockerVersion  = "27.5.1"
	DefaultComposeVersion = "2.32.4"
	DefaultBaseURL        = "https://download.docker.com"

	windowsEngineURL  = "https://github.com/StefanScherer/docker-cli-builder/releases/download/%s/docker.exe"
	windowsComposeURL = "https://github.com/docker/compose/releases/download/v%s/docker-compose-windows-x86_64.exe"

	// DesktopDockerPath is where Docker Desktop installs its CLI on Windows.
	DesktopDockerPath = `C:\Program Files\Docker\Docker\resources\bin\docker.exe`
)

// Dependencies configures a Provisioner. Machine brings up the VM after a
// macOS install. BaseURL replaces https://download.docker.com for the Linux
// archive.
type Dependencies struct {
	Runner            runner.Runner
	HTTPClient        *http.Client
	Machine           engine.MachineManager
	ToolsDir          string
	DockerVersion     string
	ComposeVersion    string
	Arch              string
	BaseURL           string
	WindowsEngineURL  string
	WindowsComposeURL string
	DesktopInstalled  func() (string, bool)
	RemoteHost        string
	PromptRemoteHost  func(ctx context.Context) (string, error)
}

type Provisioner struct {
	runner            runner.Runner
	client            *http.Client
	machine           engine.MachineManager
	toolsDir          string
	dockerVersion     string
	arch              string
	baseURL           string
	windowsEngineURL  string
	windowsComposeURL string
	desktopInstalled  func() (string, bool)
	remoteHost        string
	promptRemoteHost  func(ctx context.Context) (string, error)
	log               *slog.Logger
}

func NewWithDependencies(deps Dependencies) *Provisioner {
	if deps.Runner == nil {
		deps.Runner = runner.New()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = NewHTTPClient()
	}
	if deps.DockerVersion == "" {
		deps.DockerVersion = DefaultDockerVersion
	}
	if deps.ComposeVersion == "" {
		deps.ComposeVersion = DefaultComposeVersion
	}
	if deps.Arch == "" {
		deps.Arch = runtime.GOARCH
	}
	if deps.BaseURL == "" {
		deps.BaseURL = DefaultBaseURL
	}
	if deps.WindowsEngineURL == "" {
		deps.WindowsEngineURL = fmt.Sprintf(windowsEngineURL, deps.DockerVersion)
	}
	if deps.WindowsComposeURL == "" {
		deps.WindowsComposeURL = fmt.Sprintf(windowsComposeURL, deps.ComposeVersion)
	}
	if deps.DesktopInstalled == nil {
		deps.DesktopInstalled = func() (string, bool) {
			return DesktopDockerPath, fsutil.Exists(DesktopDockerPath)
		}
	}
	return &Provisioner{
		runner:            deps.Runner,
		client:            deps.HTTPClient,
		machine:           deps.Machine,
		toolsDir:          deps.ToolsDir,
		dockerVersion:     deps.DockerVersion,
		arch:              deps.Arch,
		baseURL:           strings.TrimRight(deps.BaseURL, "/"),
		windowsEngineURL:  deps.WindowsEngineURL,
		windowsComposeURL: deps.WindowsComposeURL,
		desktopInstalled:  deps.DesktopInstalled,
		remoteHost:        deps.RemoteHost,
		promptRemoteHost:  deps.PromptRemoteHost,
		log:               slog.With("component", "provision"),
	}
}

// Provision acquires an engine for goos. It runs once per session, after
// the locator found nothing, and never retries.
func (p *Provisioner) Provision(ctx context.Context, goos string) (engine.Config, error) {
	switch goos {
	case "darwin":
		return p.darwin(ctx)
	case "linux":
		return p.linux(ctx)
	case "windows":
		return p.windows(ctx)
	default:
		return engine.Config{}, failure.MissingDependency("provision engine", "unsupported operating system %q", goos)
	}
}

func (p *Provisioner) darwin(ctx context.Context) (engine.Config, error) {
	if _, err := p.runner.LookPath("brew"); err != nil {
		return engine.Config{}, failure.MissingDependency("provision engine",
			"homebrew is required to install podman; see https://brew.sh")
	}
	if err := p.brewInstall(ctx, "podman"); err != nil {
		return engine.Config{}, failure.MissingDependency("provision engine", "install podman: %w", err)
	}
	if err := p.brewInstall(ctx, "podman-compose"); err != nil {
		p.log.Warn("podman-compose not installed, falling back to `podman compose`", "err", err)
	}
	if p.machine != nil {
		if err := p.machine.EnsureRunning(ctx); err != nil {
			return engine.Config{}, fmt.Errorf("bring up podman machine: %w", err)
		}
	}
	return engine.Config{
		Kind:           engine.KindPodman,
		EngineCommand:  "podman",
		ComposeCommand: engine.PodmanCompose(p.runner),
		NeedsMachine:   p.machine != nil,
	}, nil
}

func (p *Provisioner) brewInstall(ctx context.Context, formula string) error {
	p.log.Info("installing with homebrew", "formula", formula)
	c := runner.Cmd{Name: "brew", Args: []string{"install", formula}, Attach: true}
	res, err := p.runner.Run(ctx, c)
	if err != nil {
		return err
	}
	return res.Err(c)
}

// LinuxArchiveURL is the pinned static Docker archive for arch.
func (p *Provisioner) LinuxArchiveURL() (string, error) {
	var arch string
	switch p.arch {
	case "amd64", "x86_64":
		arch = "x86_64"
	case "arm64", "aarch64":
		arch = "aarch64"
	default:
		return "", failure.MissingDependency("provision engine", "no static docker build for architecture %q", p.arch)
	}
	return fmt.Sprintf("%s/linux/static/stable/%s/docker-%s.tgz", p.baseURL, arch, p.dockerVersion), nil
}

func (p *Provisioner) linux(ctx context.Context) (engine.Config, error) {
	extractDir := filepath.Join(p.toolsDir, "docker-"+p.dockerVersion)
	bin, ok := findBinary(extractDir, "docker")
	if ok {
		p.log.Info("reusing portable docker", "path", bin)
	} else {
		url, err := p.LinuxArchiveURL()
		if err != nil {
			return engine.Config{}, err
		}
		if err := fsutil.EnsureDirs(p.toolsDir); err != nil {
			return engine.Config{}, err
		}
		archive := filepath.Join(p.toolsDir, "docker-"+p.dockerVersion+".tgz")
		if err := download(ctx, p.client, url, archive, 0o644); err != nil {
			return engine.Config{}, failure.DownloadFailure("download docker", err)
		}
		if err := installTarGz(archive, extractDir); err != nil {
			_ = os.Remove(archive)
			return engine.Config{}, failure.MissingDependency("provision engine", "extract %s: %w", archive, err)
		}
		bin, ok = findBinary(extractDir, "docker")
		if !ok {
			return engine.Config{}, failure.MissingDependency("provision engine", "docker binary not found in %s", archive)
		}
	}

	compose := []string{bin, "compose"}
	if _, err := p.runner.LookPath("docker-compose"); err == nil {
		compose = []string{"docker-compose"}
	}
	return engine.Config{
		Kind:           engine.KindDocker,
		EngineCommand:  bin,
		ComposeCommand: compose,
		UsingPortable:  true,
		RemoteHost:     p.remoteHost,
	}, nil
}

func (p *Provisioner) windows(ctx context.Context) (engine.Config, error) {
	if path, ok := p.desktopInstalled(); ok {
		p.log.Info("using docker desktop", "path", path)
		return engine.Config{
			Kind:           engine.KindDocker,
			EngineCommand:  path,
			ComposeCommand: []string{path, "compose"},
		}, nil
	}

	if err := fsutil.EnsureDirs(p.toolsDir); err != nil {
		return engine.Config{}, err
	}
	dockerExe := filepath.Join(p.toolsDir, "docker.exe")
	composeExe := filepath.Join(p.toolsDir, "docker-compose.exe")
	for _, f := range []struct{ url, dest string }{
		{p.windowsEngineURL, dockerExe},
		{p.windowsComposeURL, composeExe},
	} {
		if fsutil.Exists(f.dest) {
			continue
		}
		if err := download(ctx, p.client, f.url, f.dest, 0o755); err != nil {
			return engine.Config{}, failure.DownloadFailure("download "+filepath.Base(f.dest), err)
		}
	}

	host := p.remoteHost
	if host == "" && p.promptRemoteHost != nil {
		answer, err := p.promptRemoteHost(ctx)
		if err != nil {
			p.log.Debug("remote host prompt skipped", "err", err)
		}
		host = strings.TrimSpace(answer)
	}
	return engine.Config{
		Kind:           engine.KindDocker,
		EngineCommand:  dockerExe,
		ComposeCommand: []string{composeExe},
		UsingPortable:  true,
		RemoteHost:     host,
	}, nil
}
