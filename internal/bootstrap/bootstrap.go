// Package bootstrap fixes the container engine for a session: find one,
// acquire one when none is found, then make sure it answers.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"meshnet/internal/engine"
	"meshnet/internal/session"
	"meshnet/internal/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	StepLocate    = "locate_engine"
	StepProvision = "provision_engine"
	StepVerify    = "verify_engine"
)

// Plan is the telemetry plan emitted for every bootstrap.
var Plan = telemetry.Plan{Steps: []telemetry.PlannedStep{
	{ID: StepLocate, Title: "Locate container engine"},
	{ID: StepProvision, Title: "Provision portable engine"},
	{ID: StepVerify, Title: "Verify engine responds"},
}}

type Locator interface {
	Locate(ctx context.Context) (engine.Config, error)
}

type Provisioner interface {
	Provision(ctx context.Context, goos string) (engine.Config, error)
}

type Verifier interface {
	Verify(ctx context.Context, cfg engine.Config) (engine.Health, error)
}

type Dependencies struct {
	Locator     Locator
	Provisioner Provisioner
	Verifier    Verifier
	Tracer      trace.Tracer
}

type Bootstrapper struct {
	locator     Locator
	provisioner Provisioner
	verifier    Verifier
	tracer      trace.Tracer
	log         *slog.Logger
}

func New(deps Dependencies) *Bootstrapper {
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("meshnet/bootstrap")
	}
	return &Bootstrapper{
		locator:     deps.Locator,
		provisioner: deps.Provisioner,
		verifier:    deps.Verifier,
		tracer:      deps.Tracer,
		log:         slog.With("component", "bootstrap"),
	}
}

// Run selects the engine and stores it in sess. The engine is stored before
// verification, so an unresponsive engine still leaves the session usable
// for a later restart. The provisioner only runs when nothing was located.
func (b *Bootstrapper) Run(ctx context.Context, sess *session.Session) (err error) {
	op, err := telemetry.EmitPlan(ctx, b.tracer, "bootstrap", Plan)
	if err != nil {
		return err
	}
	defer func() { op.End(err) }()
	ctx = op.Context()

	var cfg engine.Config
	located := false
	err = op.RunStep(ctx, StepLocate, func(ctx context.Context) error {
		c, err := b.locator.Locate(ctx)
		switch {
		case err == nil:
			cfg, located = c, true
			return nil
		case errors.Is(err, engine.ErrNotFound):
			b.log.Info("no container engine found, provisioning one")
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return err
	}

	if located {
		op.Skip(ctx, StepProvision, "engine already available")
	} else {
		err = op.RunStep(ctx, StepProvision, func(ctx context.Context) error {
			c, err := b.provisioner.Provision(ctx, sess.GOOS)
			if err != nil {
				return err
			}
			cfg = c
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err = sess.SetEngine(cfg); err != nil {
		return fmt.Errorf("fix session engine: %w", err)
	}
	if b.verifier == nil {
		return nil
	}
	return op.RunStep(ctx, StepVerify, func(ctx context.Context) error {
		_, err := b.verifier.Verify(ctx, cfg)
		return err
	})
}
