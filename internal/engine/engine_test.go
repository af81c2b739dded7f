package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"meshnet/internal/failure"
	"meshnet/internal/testkit/fake"
)

type fakeMachine struct {
	fake.CallRecorder
	ensureErr error
}

func (f *fakeMachine) EnsureRunning(context.Context) error {
	f.Record("EnsureRunning")
	return f.ensureErr
}

func (f *fakeMachine) Recover(context.Context) error {
	f.Record("Recover")
	return nil
}

func pingOK(context.Context, string) error   { return nil }
func pingDown(context.Context, string) error { return errors.New("connection refused") }

func TestLocatePrefersHealthyDocker(t *testing.T) {
	r := fake.NewRunner().Install("docker", "podman")
	m := &fakeMachine{}
	l := NewLocator(Dependencies{Runner: r, Ping: pingOK, Machine: m})

	cfg, err := l.Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if cfg.Kind != KindDocker || cfg.EngineCommand != "docker" {
		t.Fatalf("Locate() = %+v, want docker", cfg)
	}
	if len(m.Calls("")) != 0 {
		t.Fatalf("machine calls = %v, want none when docker is healthy", m.Methods())
	}
	for _, c := range r.Calls("LookPath") {
		if c.Args[0] == "podman" {
			t.Fatal("podman probed after docker succeeded")
		}
	}
}

func TestLocateComposeDetection(t *testing.T) {
	testCases := []struct {
		name   string
		runner *fake.Runner
		want   string
	}{
		{
			name:   "plugin",
			runner: fake.NewRunner().Install("docker"),
			want:   "docker compose",
		},
		{
			name:   "standalone",
			runner: fake.NewRunner().Install("docker", "docker-compose").On("docker compose version", fake.Exit(1, "unknown command")),
			want:   "docker-compose",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewLocator(Dependencies{Runner: tc.runner, Ping: pingOK}).Locate(context.Background())
			if err != nil {
				t.Fatalf("Locate() error = %v", err)
			}
			if got := cfg.Compose("f.yml").String(); got[:len(tc.want)] != tc.want {
				t.Fatalf("compose command = %q, want prefix %q", got, tc.want)
			}
		})
	}
}

func TestLocateDockerCLIFallback(t *testing.T) {
	r := fake.NewRunner().Install("docker").On("docker info", fake.OK("27.5.1\n"))
	cfg, err := NewLocator(Dependencies{Runner: r, Ping: pingDown}).Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if cfg.Kind != KindDocker {
		t.Fatalf("Locate().Kind = %v, want docker", cfg.Kind)
	}
}

func TestLocateTargetsRemoteHost(t *testing.T) {
	const host = "tcp://10.1.2.3:2375"
	var pinged []string
	ping := func(_ context.Context, h string) error {
		pinged = append(pinged, h)
		return nil
	}
	r := fake.NewRunner().Install("docker")
	cfg, err := NewLocator(Dependencies{Runner: r, Ping: ping, RemoteHost: host}).Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if len(pinged) != 1 || pinged[0] != host {
		t.Fatalf("pinged hosts = %q, want [%q]", pinged, host)
	}
	if cfg.RemoteHost != host {
		t.Fatalf("Locate().RemoteHost = %q, want %q", cfg.RemoteHost, host)
	}
	if got, want := cfg.Engine("ps").String(), "docker -H "+host+" ps"; got != want {
		t.Fatalf("Engine(ps) = %q, want %q", got, want)
	}
}

func TestLocateCLIFallbackTargetsRemoteHost(t *testing.T) {
	const host = "ssh://box"
	r := fake.NewRunner().Install("docker").
		On("docker info", fake.Exit(1, "local daemon down")).
		On("docker -H ssh://box info", fake.OK("27.5.1\n"))
	cfg, err := NewLocator(Dependencies{Runner: r, Ping: pingDown, RemoteHost: host}).Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if cfg.Kind != KindDocker || cfg.RemoteHost != host {
		t.Fatalf("Locate() = %+v, want docker at %s", cfg, host)
	}
}

func TestLocateFallsBackToPodman(t *testing.T) {
	r := fake.NewRunner().Install("docker", "podman", "podman-compose").On("docker info", fake.Exit(1, "daemon down"))
	m := &fakeMachine{}
	cfg, err := NewLocator(Dependencies{Runner: r, Ping: pingDown, Machine: m}).Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if cfg.Kind != KindPodman || !cfg.NeedsMachine {
		t.Fatalf("Locate() = %+v, want VM-backed podman", cfg)
	}
	if len(cfg.ComposeCommand) != 1 || cfg.ComposeCommand[0] != "podman-compose" {
		t.Fatalf("ComposeCommand = %v, want [podman-compose]", cfg.ComposeCommand)
	}
	if len(m.Calls("EnsureRunning")) != 1 {
		t.Fatalf("EnsureRunning calls = %d, want 1", len(m.Calls("EnsureRunning")))
	}
}

func TestLocatePodmanMachineFailure(t *testing.T) {
	r := fake.NewRunner().Install("podman")
	m := &fakeMachine{ensureErr: errors.New("timeout")}
	_, err := NewLocator(Dependencies{Runner: r, Ping: pingDown, Machine: m}).Locate(context.Background())
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Locate() error = %v, want machine failure", err)
	}
}

func TestLocateNothingInstalled(t *testing.T) {
	_, err := NewLocator(Dependencies{Runner: fake.NewRunner(), Ping: pingOK}).Locate(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Locate() error = %v, want ErrNotFound", err)
	}
}

func TestVerifyReadyOnKthProbe(t *testing.T) {
	for k := 1; k <= 3; k++ {
		responses := make([]fake.Response, 0, k)
		for i := 0; i < k-1; i++ {
			responses = append(responses, fake.Exit(1, "cannot connect"))
		}
		responses = append(responses, fake.OK(""))
		r := fake.NewRunner().On("podman ps", responses...)
		m := &fakeMachine{}
		v := NewVerifier(r, m, 3, time.Millisecond)

		cfg := Config{Kind: KindPodman, EngineCommand: "podman", NeedsMachine: true}
		h, err := v.Verify(context.Background(), cfg)
		if err != nil || h != HealthReady {
			t.Fatalf("k=%d: Verify() = %v, %v, want ready", k, h, err)
		}
		if got := r.Count("podman ps"); got != k {
			t.Fatalf("k=%d: probes = %d, want %d", k, got, k)
		}
		if got := len(m.Calls("Recover")); got != k-1 {
			t.Fatalf("k=%d: recoveries = %d, want %d", k, got, k-1)
		}
	}
}

func TestVerifyExhaustion(t *testing.T) {
	r := fake.NewRunner().On("docker ps", fake.Exit(1, "down"))
	m := &fakeMachine{}
	v := NewVerifier(r, m, 3, time.Millisecond)

	h, err := v.Verify(context.Background(), Config{Kind: KindDocker, EngineCommand: "docker"})
	if h != HealthUnresponsive {
		t.Fatalf("Verify() = %v, want unresponsive", h)
	}
	if !errors.Is(err, failure.ErrEngineUnresponsive) {
		t.Fatalf("Verify() error = %v, want EngineUnresponsive", err)
	}
	if got := r.Count("docker ps"); got != 3 {
		t.Fatalf("probes = %d, want 3", got)
	}
	if len(m.Calls("Recover")) != 0 {
		t.Fatal("docker engine triggered machine recovery")
	}
}

func TestConfigHostFlag(t *testing.T) {
	cfg := Config{
		EngineCommand:  "/tools/docker",
		ComposeCommand: []string{"/tools/docker-compose"},
		UsingPortable:  true,
		RemoteHost:     "tcp://10.0.0.5:2375",
	}
	if got, want := cfg.Engine("ps").String(), "/tools/docker -H tcp://10.0.0.5:2375 ps"; got != want {
		t.Fatalf("Engine(ps) = %q, want %q", got, want)
	}
	if got, want := cfg.Compose("dc.yml", "up", "-d", "discovery").String(), "/tools/docker-compose -H tcp://10.0.0.5:2375 -f dc.yml up -d discovery"; got != want {
		t.Fatalf("Compose() = %q, want %q", got, want)
	}

	cfg.RemoteHost = ""
	if got, want := cfg.Engine("ps").String(), "/tools/docker ps"; got != want {
		t.Fatalf("Engine(ps) without remote host = %q, want %q", got, want)
	}

	podman := Config{Kind: KindPodman, EngineCommand: "podman", RemoteHost: "tcp://10.0.0.5:2375"}
	if got, want := podman.Engine("ps").String(), "podman ps"; got != want {
		t.Fatalf("Engine(ps) for podman = %q, want %q", got, want)
	}

	plugin := Config{EngineCommand: "docker", ComposeCommand: []string{"docker", "compose"}, UsingPortable: true, RemoteHost: "ssh://box"}
	if got, want := plugin.Compose("dc.yml", "ps").String(), "docker -H ssh://box compose -f dc.yml ps"; got != want {
		t.Fatalf("Compose() plugin = %q, want %q", got, want)
	}
}
