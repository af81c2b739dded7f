// Package vm manages the lightweight VM that hosts the container engine on
// platforms without native container support.
package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meshnet/internal/poll"
	"meshnet/internal/session"
)

// Required reports whether goos needs a VM to run containers.
func Required(goos string) bool {
	return goos == "darwin"
}

// Spec sizes a new machine.
type Spec struct {
	Name      string
	CPUs      int
	MemoryMiB int64
	DiskGiB   int64
}

// Status is a driver observation.
type Status struct {
	Exists   bool
	Running  bool
	Starting bool
}

// Driver talks to the virtualization tool.
type Driver interface {
	Inspect(ctx context.Context, name string) (Status, error)
	Init(ctx context.Context, spec Spec) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
}

// Timing bounds readiness polling after start.
type Timing struct {
	PollBound    int
	PollInterval time.Duration
	Settle       time.Duration
}

// ErrNotReady is returned (wrapped) when a started machine does not report
// running within the poll bound.
var ErrNotReady = errors.New("machine did not reach running state")

type Dependencies struct {
	Driver  Driver
	Session *session.Session
	Spec    Spec
	Timing  Timing
	Sleep   func(ctx context.Context, d time.Duration) error
}

type Manager struct {
	driver  Driver
	session *session.Session
	spec    Spec
	timing  Timing
	sleep   func(ctx context.Context, d time.Duration) error
	log     *slog.Logger

	mu    sync.Mutex
	phase Phase
}

func NewWithDependencies(deps Dependencies) *Manager {
	if deps.Sleep == nil {
		deps.Sleep = poll.Sleep
	}
	if deps.Spec.Name == "" {
		deps.Spec.Name = "meshnet"
	}
	if deps.Timing.PollBound < 1 {
		deps.Timing.PollBound = 30
	}
	if deps.Session == nil {
		deps.Session = session.New("darwin")
	}
	return &Manager{
		driver:  deps.Driver,
		session: deps.Session,
		spec:    deps.Spec,
		timing:  deps.Timing,
		sleep:   deps.Sleep,
		log:     slog.With("component", "vm", "machine", deps.Spec.Name),
	}
}

func (m *Manager) Name() string { return m.spec.Name }

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Manager) transition(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.phase.CanTransition(to) {
		return &TransitionError{From: m.phase, To: to}
	}
	m.log.Debug("phase", "from", m.phase, "to", to)
	m.phase = to
	return nil
}

// observe resets the phase to a resting state reported by the driver.
func (m *Manager) observe(st Status) Phase {
	p := PhaseStopped
	switch {
	case !st.Exists:
		p = PhaseAbsent
	case st.Running:
		p = PhaseRunning
	case st.Starting:
		p = PhaseStarting
	}
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
	return p
}

func (m *Manager) fail(cause error) error {
	if err := m.transition(PhaseFailed); err != nil {
		m.log.Debug("record failure", "err", err)
	}
	return cause
}

// EnsureRunning brings the machine to the running state, creating it when
// absent. A machine that is already running is reused as is.
func (m *Manager) EnsureRunning(ctx context.Context) error {
	st, err := m.driver.Inspect(ctx, m.spec.Name)
	if err != nil {
		return fmt.Errorf("inspect machine %s: %w", m.spec.Name, err)
	}

	switch m.observe(st) {
	case PhaseRunning:
		m.log.Debug("machine already running")
		return nil
	case PhaseAbsent:
		if err := m.transition(PhaseInitializing); err != nil {
			return err
		}
		m.log.Info("creating machine", "cpus", m.spec.CPUs, "memory_mib", m.spec.MemoryMiB, "disk_gib", m.spec.DiskGiB)
		if err := m.driver.Init(ctx, m.spec); err != nil {
			return m.fail(fmt.Errorf("init machine %s: %w", m.spec.Name, err))
		}
		m.session.MarkMachineCreated()
	}

	if m.Phase() != PhaseStarting {
		if err := m.transition(PhaseStarting); err != nil {
			return err
		}
		m.log.Info("starting machine")
		if err := m.driver.Start(ctx, m.spec.Name); err != nil {
			return m.fail(fmt.Errorf("start machine %s: %w", m.spec.Name, err))
		}
	}

	res, err := poll.Await(ctx, poll.Bound{Attempts: m.timing.PollBound, Interval: m.timing.PollInterval},
		func(ctx context.Context) (bool, error) {
			st, err := m.driver.Inspect(ctx, m.spec.Name)
			if err != nil {
				return false, poll.Retry(err)
			}
			return st.Running, nil
		})
	if res != poll.Ready {
		if res == poll.Timeout {
			err = fmt.Errorf("%w within %s: %w", ErrNotReady, poll.Bound{Attempts: m.timing.PollBound, Interval: m.timing.PollInterval}, err)
		}
		return m.fail(fmt.Errorf("wait for machine %s: %w", m.spec.Name, err))
	}

	if err := m.sleep(ctx, m.timing.Settle); err != nil {
		return m.fail(fmt.Errorf("settle machine %s: %w", m.spec.Name, err))
	}
	if err := m.transition(PhaseRunning); err != nil {
		return err
	}
	m.log.Info("machine running")
	return nil
}

// Stop stops the machine if it is running or starting.
func (m *Manager) Stop(ctx context.Context) error {
	st, err := m.driver.Inspect(ctx, m.spec.Name)
	if err != nil {
		return fmt.Errorf("inspect machine %s: %w", m.spec.Name, err)
	}
	p := m.observe(st)
	if p != PhaseRunning && p != PhaseStarting {
		return nil
	}
	if err := m.transition(PhaseStopping); err != nil {
		return err
	}
	m.log.Info("stopping machine")
	if err := m.driver.Stop(ctx, m.spec.Name); err != nil {
		return m.fail(fmt.Errorf("stop machine %s: %w", m.spec.Name, err))
	}
	return m.transition(PhaseStopped)
}

// StopQuietly is Stop with errors logged and dropped.
func (m *Manager) StopQuietly(ctx context.Context) {
	if err := m.Stop(ctx); err != nil {
		m.log.Warn("stop machine", "err", err)
	}
}

// Recover restarts the machine.
func (m *Manager) Recover(ctx context.Context) error {
	m.log.Info("recovering machine")
	m.StopQuietly(ctx)
	return m.EnsureRunning(ctx)
}

// Release stops the machine only when this session created it.
func (m *Manager) Release(ctx context.Context) {
	if !m.session.MachineCreated() {
		m.log.Debug("machine not created by this session, leaving it running")
		return
	}
	m.StopQuietly(ctx)
}
