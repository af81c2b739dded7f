// Package session holds the state of one meshnet invocation.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"meshnet/internal/engine"

	"github.com/google/uuid"
)

// ErrEngineAlreadySet is returned when the engine is fixed a second time.
var ErrEngineAlreadySet = errors.New("engine already configured for this session")

// ErrEmptyEngine is returned when SetEngine is given a config with no commands.
var ErrEmptyEngine = errors.New("engine config has no commands")

// Session is created once per process. The engine is set at most once and
// read back as copies, so it cannot change mid-session.
type Session struct {
	ID   string
	GOOS string

	mu             sync.Mutex
	engine         *engine.Config
	machineCreated bool
	cleanups       []func(context.Context)
	cleaned        bool
}

func New(goos string) *Session {
	return &Session{ID: uuid.NewString(), GOOS: goos}
}

// SetEngine fixes the session engine.
func (s *Session) SetEngine(cfg engine.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return ErrEngineAlreadySet
	}
	if cfg.IsZero() {
		return ErrEmptyEngine
	}
	c := cfg.Clone()
	s.engine = &c
	slog.Debug("engine configured", "component", "session", "session", s.ID,
		"kind", c.Kind, "engine", c.EngineCommand, "compose", c.ComposeCommand, "portable", c.UsingPortable)
	return nil
}

// Engine returns a copy of the session engine.
func (s *Session) Engine() (engine.Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return engine.Config{}, false
	}
	return s.engine.Clone(), true
}

func (s *Session) UsingPortable() bool {
	cfg, ok := s.Engine()
	return ok && cfg.UsingPortable
}

// MarkMachineCreated records that this session created the VM.
func (s *Session) MarkMachineCreated() {
	s.mu.Lock()
	s.machineCreated = true
	s.mu.Unlock()
}

// MachineCreated reports whether this session created the VM. Cleanup only
// stops machines for which this is true.
func (s *Session) MachineCreated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machineCreated
}

// OnCleanup registers fn to run during Cleanup. Handlers run in reverse
// registration order.
func (s *Session) OnCleanup(fn func(context.Context)) {
	s.mu.Lock()
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// Cleanup runs registered handlers once. Later calls do nothing.
func (s *Session) Cleanup(ctx context.Context) {
	s.mu.Lock()
	if s.cleaned {
		s.mu.Unlock()
		return
	}
	s.cleaned = true
	fns := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i](ctx)
	}
}
