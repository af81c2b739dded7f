package engine

import (
	"slices"

	"meshnet/internal/runner"
)

// Kind identifies the container engine family.
type Kind uint8

const (
	KindNone Kind = iota
	KindDocker
	KindPodman
)

func (k Kind) String() string {
	switch k {
	case KindDocker:
		return "docker"
	case KindPodman:
		return "podman"
	default:
		return "none"
	}
}

// Config is the resolved engine for a session.
type Config struct {
	Kind Kind
	// EngineCommand is the engine binary, either a name on PATH or an
	// absolute path to a portable copy.
	EngineCommand string
	// ComposeCommand is the argument vector that runs compose, for example
	// ["docker", "compose"] or ["podman-compose"].
	ComposeCommand []string
	// UsingPortable is set when EngineCommand was acquired by meshnet
	// rather than found on the host.
	UsingPortable bool
	// RemoteHost is passed as the host flag to docker when set.
	RemoteHost string
	// NeedsMachine is set when the engine runs inside a VM managed by
	// meshnet.
	NeedsMachine bool
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	c.ComposeCommand = slices.Clone(c.ComposeCommand)
	return c
}

// HostArgs returns the host flag, or nil when talking to the local daemon.
// Podman never gets one.
func (c Config) HostArgs() []string {
	if c.RemoteHost == "" || c.Kind == KindPodman {
		return nil
	}
	return []string{"-H", c.RemoteHost}
}

// Engine builds an engine invocation with the host flag applied.
func (c Config) Engine(args ...string) runner.Cmd {
	all := make([]string, 0, len(args)+2)
	all = append(all, c.HostArgs()...)
	all = append(all, args...)
	return runner.Cmd{Name: c.EngineCommand, Args: all}
}

// Compose builds a compose invocation against file. The host flag goes
// directly after the binary, which both the plugin form and the standalone
// front-end accept.
func (c Config) Compose(file string, args ...string) runner.Cmd {
	if len(c.ComposeCommand) == 0 {
		return runner.Cmd{}
	}
	all := make([]string, 0, len(c.ComposeCommand)+len(args)+4)
	all = append(all, c.HostArgs()...)
	all = append(all, c.ComposeCommand[1:]...)
	all = append(all, "-f", file)
	all = append(all, args...)
	return runner.Cmd{Name: c.ComposeCommand[0], Args: all}
}

func (c Config) IsZero() bool {
	return c.EngineCommand == "" && len(c.ComposeCommand) == 0
}
