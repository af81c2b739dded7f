// Package telemetry records multi-step operations as OpenTelemetry spans.
// The root span carries the plan so renderers can show pending steps before
// they start.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	PlanEventName   = "meshnet.plan"
	PlanVersion     = "1"
	PlanVersionKey  = "meshnet.plan.version"
	PlanJSONKey     = "meshnet.plan.json"
	StepSkippedKey  = "meshnet.step.skipped"
	StepReasonKey   = "meshnet.step.reason"
	defaultRootName = "operation"
)

type PlannedStep struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Title    string `json:"title"`
}

type Plan struct {
	Steps []PlannedStep `json:"steps"`
}

// Title returns the title of step id, or id itself when it is not planned.
func (p Plan) Title(id string) string {
	for _, s := range p.Steps {
		if s.ID == id && s.Title != "" {
			return s.Title
		}
	}
	return id
}

// Operation is a running plan. A nil Operation runs steps untraced.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
	plan   Plan
}

func EmitPlan(ctx context.Context, tracer trace.Tracer, name string, plan Plan) (*Operation, error) {
	if tracer == nil {
		return nil, errors.New("emit telemetry plan: tracer is required")
	}
	if err := validatePlan(plan); err != nil {
		return nil, fmt.Errorf("emit telemetry plan: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultRootName
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("emit telemetry plan: marshal plan: %w", err)
	}
	attrs := trace.WithAttributes(
		attribute.String(PlanVersionKey, PlanVersion),
		attribute.String(PlanJSONKey, string(planJSON)),
	)
	spanCtx, span := tracer.Start(ctx, name, attrs)
	span.AddEvent(PlanEventName, attrs)

	return &Operation{ctx: spanCtx, tracer: tracer, span: span, plan: plan}, nil
}

func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// RunStep runs fn inside a child span named id. A failing fn marks the
// span as errored and its error is returned unchanged.
func (o *Operation) RunStep(ctx context.Context, id string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("run telemetry step: step id is required")
	}
	if o == nil || o.tracer == nil {
		return fn(ctx)
	}
	if ctx == nil {
		ctx = o.ctx
	}

	stepCtx, span := o.tracer.Start(ctx, id)
	defer span.End()

	if err := fn(stepCtx); err != nil {
		fail(span, err)
		return err
	}
	return nil
}

// Skip records step id as not needed for this run.
func (o *Operation) Skip(ctx context.Context, id, reason string) {
	if o == nil || o.tracer == nil {
		return
	}
	if ctx == nil {
		ctx = o.ctx
	}
	_, span := o.tracer.Start(ctx, strings.TrimSpace(id), trace.WithAttributes(
		attribute.Bool(StepSkippedKey, true),
		attribute.String(StepReasonKey, reason),
	))
	span.End()
}

func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		fail(o.span, err)
	}
	o.span.End()
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
}

func validatePlan(plan Plan) error {
	seen := make(map[string]struct{}, len(plan.Steps))
	for i, step := range plan.Steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return fmt.Errorf("step %d has empty id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate step id %q", id)
		}
		seen[id] = struct{}{}
	}
	for i, step := range plan.Steps {
		parent := strings.TrimSpace(step.ParentID)
		if parent == "" {
			continue
		}
		if _, ok := seen[parent]; !ok {
			return fmt.Errorf("step %d parent %q not found in plan", i, parent)
		}
	}
	return nil
}
