package vm

import (
	"context"
	"errors"
	"testing"
	"time"

	"meshnet/internal/session"
	"meshnet/internal/testkit/fake"
)

// fakeDriver models a single machine. inspectScript, when non-empty,
// overrides the modelled status for successive Inspect calls.
type fakeDriver struct {
	fake.CallRecorder
	exists        bool
	running       bool
	inspectScript []Status
	initErr       error
	startErr      error
	stopErr       error
	neverRuns     bool
}

func (f *fakeDriver) Inspect(_ context.Context, name string) (Status, error) {
	f.Record("Inspect", name)
	if len(f.inspectScript) > 0 {
		st := f.inspectScript[0]
		f.inspectScript = f.inspectScript[1:]
		return st, nil
	}
	return Status{Exists: f.exists, Running: f.running}, nil
}

func (f *fakeDriver) Init(_ context.Context, spec Spec) error {
	f.Record("Init", spec)
	if f.initErr != nil {
		return f.initErr
	}
	f.exists = true
	return nil
}

func (f *fakeDriver) Start(_ context.Context, name string) error {
	f.Record("Start", name)
	if f.startErr != nil {
		return f.startErr
	}
	f.running = !f.neverRuns
	return nil
}

func (f *fakeDriver) Stop(_ context.Context, name string) error {
	f.Record("Stop", name)
	if f.stopErr != nil {
		return f.stopErr
	}
	f.running = false
	return nil
}

type sleepRecorder struct {
	slept []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func newTestManager(d *fakeDriver, sess *session.Session, sl *sleepRecorder) *Manager {
	return NewWithDependencies(Dependencies{
		Driver:  d,
		Session: sess,
		Spec:    Spec{Name: "meshnet", CPUs: 2, MemoryMiB: 2048, DiskGiB: 20},
		Timing:  Timing{PollBound: 3, PollInterval: time.Millisecond, Settle: 5 * time.Second},
		Sleep:   sl.Sleep,
	})
}

func TestEnsureRunningReusesRunningMachine(t *testing.T) {
	d := &fakeDriver{exists: true, running: true}
	sess := session.New("darwin")
	m := newTestManager(d, sess, &sleepRecorder{})

	if err := m.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}
	if n := len(d.Calls("Init")); n != 0 {
		t.Fatalf("Init calls = %d, want 0", n)
	}
	if n := len(d.Calls("Start")); n != 0 {
		t.Fatalf("Start calls = %d, want 0", n)
	}
	if sess.MachineCreated() {
		t.Fatal("MachineCreated() = true for reused machine, want false")
	}
	if m.Phase() != PhaseRunning {
		t.Fatalf("Phase() = %v, want running", m.Phase())
	}
}

func TestEnsureRunningCreatesAbsentMachine(t *testing.T) {
	d := &fakeDriver{}
	sess := session.New("darwin")
	sl := &sleepRecorder{}
	m := newTestManager(d, sess, sl)

	if err := m.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}
	inits := d.Calls("Init")
	if len(inits) != 1 {
		t.Fatalf("Init calls = %d, want 1", len(inits))
	}
	spec := inits[0].Args[0].(Spec)
	if spec.CPUs != 2 || spec.MemoryMiB != 2048 || spec.DiskGiB != 20 {
		t.Fatalf("Init spec = %+v, want 2 cpus 2048MiB 20GiB", spec)
	}
	if !sess.MachineCreated() {
		t.Fatal("MachineCreated() = false after init, want true")
	}
	if len(sl.slept) != 1 || sl.slept[0] != 5*time.Second {
		t.Fatalf("settle sleeps = %v, want [5s]", sl.slept)
	}
	want := []string{"Inspect", "Init", "Start", "Inspect"}
	got := d.Methods()
	if len(got) != len(want) {
		t.Fatalf("driver calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("driver calls = %v, want %v", got, want)
		}
	}
}

func TestEnsureRunningStartsStoppedMachine(t *testing.T) {
	d := &fakeDriver{exists: true}
	sess := session.New("darwin")
	m := newTestManager(d, sess, &sleepRecorder{})

	if err := m.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}
	if len(d.Calls("Init")) != 0 || len(d.Calls("Start")) != 1 {
		t.Fatalf("calls = %v, want one Start and no Init", d.Methods())
	}
	if sess.MachineCreated() {
		t.Fatal("MachineCreated() = true for existing machine, want false")
	}
}

func TestEnsureRunningPollsUntilRunning(t *testing.T) {
	d := &fakeDriver{exists: true, inspectScript: []Status{
		{Exists: true},
		{Exists: true, Starting: true},
		{Exists: true, Running: true},
	}}
	m := newTestManager(d, session.New("darwin"), &sleepRecorder{})

	if err := m.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}
	if n := len(d.Calls("Inspect")); n != 3 {
		t.Fatalf("Inspect calls = %d, want 3", n)
	}
}

func TestEnsureRunningTimesOut(t *testing.T) {
	d := &fakeDriver{neverRuns: true}
	sl := &sleepRecorder{}
	m := newTestManager(d, session.New("darwin"), sl)

	err := m.EnsureRunning(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("EnsureRunning() error = %v, want ErrNotReady", err)
	}
	if m.Phase() != PhaseFailed {
		t.Fatalf("Phase() = %v, want failed", m.Phase())
	}
	// one initial inspect plus the poll bound
	if n := len(d.Calls("Inspect")); n != 4 {
		t.Fatalf("Inspect calls = %d, want 4", n)
	}
	if len(sl.slept) != 0 {
		t.Fatalf("settle sleeps = %v, want none after timeout", sl.slept)
	}
}

func TestEnsureRunningInitFailure(t *testing.T) {
	d := &fakeDriver{initErr: errors.New("qemu missing")}
	sess := session.New("darwin")
	m := newTestManager(d, sess, &sleepRecorder{})

	if err := m.EnsureRunning(context.Background()); err == nil {
		t.Fatal("EnsureRunning() error = nil, want init failure")
	}
	if sess.MachineCreated() {
		t.Fatal("MachineCreated() = true after failed init, want false")
	}
	if m.Phase() != PhaseFailed {
		t.Fatalf("Phase() = %v, want failed", m.Phase())
	}
}

func TestReleaseOnlyStopsCreatedMachine(t *testing.T) {
	d := &fakeDriver{exists: true, running: true}
	sess := session.New("darwin")
	m := newTestManager(d, sess, &sleepRecorder{})

	if err := m.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}
	m.Release(context.Background())
	if n := len(d.Calls("Stop")); n != 0 {
		t.Fatalf("Stop calls = %d for pre-existing machine, want 0", n)
	}

	d2 := &fakeDriver{}
	sess2 := session.New("darwin")
	m2 := newTestManager(d2, sess2, &sleepRecorder{})
	if err := m2.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}
	m2.Release(context.Background())
	if n := len(d2.Calls("Stop")); n != 1 {
		t.Fatalf("Stop calls = %d for created machine, want 1", n)
	}
	if m2.Phase() != PhaseStopped {
		t.Fatalf("Phase() = %v, want stopped", m2.Phase())
	}
}

func TestRecoverStopsThenStarts(t *testing.T) {
	d := &fakeDriver{exists: true, running: true}
	m := newTestManager(d, session.New("darwin"), &sleepRecorder{})

	if err := m.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if len(d.Calls("Stop")) != 1 || len(d.Calls("Start")) != 1 {
		t.Fatalf("calls = %v, want one Stop and one Start", d.Methods())
	}
}

func TestStopQuietlySwallowsErrors(t *testing.T) {
	d := &fakeDriver{exists: true, running: true, stopErr: errors.New("busy")}
	m := newTestManager(d, session.New("darwin"), &sleepRecorder{})
	m.StopQuietly(context.Background())
	if m.Phase() != PhaseFailed {
		t.Fatalf("Phase() = %v, want failed", m.Phase())
	}
}

func TestPhaseTransitions(t *testing.T) {
	testCases := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseAbsent, PhaseInitializing, true},
		{PhaseAbsent, PhaseRunning, false},
		{PhaseAbsent, PhaseStarting, false},
		{PhaseInitializing, PhaseRunning, false},
		{PhaseInitializing, PhaseStarting, true},
		{PhaseStarting, PhaseRunning, true},
		{PhaseRunning, PhaseStopping, true},
		{PhaseRunning, PhaseStarting, false},
		{PhaseStopping, PhaseStopped, true},
		{PhaseStopped, PhaseStarting, true},
		{PhaseStopped, PhaseRunning, false},
		{PhaseFailed, PhaseStarting, true},
		{PhaseUnknown, PhaseRunning, false},
	}
	for _, tc := range testCases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s.CanTransition(%s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRequired(t *testing.T) {
	if !Required("darwin") || Required("linux") || Required("windows") {
		t.Fatal("Required() must be true only for darwin")
	}
}
