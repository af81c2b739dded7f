package engine

import (
	"context"
	"log/slog"
	"time"

	"meshnet/internal/failure"
	"meshnet/internal/poll"
	"meshnet/internal/runner"
)

type Health uint8

const (
	HealthUnknown Health = iota
	HealthReady
	HealthUnresponsive
)

func (h Health) String() string {
	switch h {
	case HealthReady:
		return "ready"
	case HealthUnresponsive:
		return "unresponsive"
	default:
		return "unknown"
	}
}

// Verifier checks that the engine answers a list query.
type Verifier struct {
	Runner  runner.Runner
	Machine MachineManager
	Bound   poll.Bound
}

func NewVerifier(r runner.Runner, m MachineManager, attempts int, delay time.Duration) *Verifier {
	return &Verifier{Runner: r, Machine: m, Bound: poll.Bound{Attempts: attempts, Interval: delay}}
}

// Verify probes cfg with `<engine> ps`. Between failed probes a VM-backed
// Podman engine gets its machine recovered.
func (v *Verifier) Verify(ctx context.Context, cfg Config) (Health, error) {
	log := slog.With("component", "engine", "engine", cfg.EngineCommand)
	c := cfg.Engine("ps")
	res, err := poll.Await(ctx, v.Bound, func(ctx context.Context) (bool, error) {
		out, err := v.Runner.Run(ctx, c)
		if err != nil {
			return false, poll.Retry(err)
		}
		if err := out.Err(c); err != nil {
			return false, poll.Retry(err)
		}
		return true, nil
	}, poll.Between(func(ctx context.Context, attempt int, lastErr error) {
		log.Warn("engine not responding", "attempt", attempt, "err", lastErr)
		Remediate(ctx, cfg, v.Machine)
	}))

	switch res {
	case poll.Ready:
		return HealthReady, nil
	case poll.Timeout:
		return HealthUnresponsive, failure.EngineUnresponsive("verify engine", err)
	default:
		return HealthUnknown, err
	}
}

// Remediate recovers the VM behind a Podman engine. Other engines have no
// remediation.
func Remediate(ctx context.Context, cfg Config, m MachineManager) {
	if m == nil || !cfg.NeedsMachine || cfg.Kind != KindPodman {
		return
	}
	if err := m.Recover(ctx); err != nil {
		slog.Warn("recover machine", "component", "engine", "err", err)
	}
}
