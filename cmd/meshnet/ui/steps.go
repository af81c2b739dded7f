package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"meshnet/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type stepStatus string

const (
	stepRunning stepStatus = "running"
	stepDone    stepStatus = "done"
	stepFailed  stepStatus = "failed"
	stepSkipped stepStatus = "skipped"
)

// StepOutput prints one line per finished step of a telemetry plan.
type StepOutput struct {
	provider *sdktrace.TracerProvider
}

func NewStepOutput(w io.Writer) *StepOutput {
	p := &stepPrinter{w: w, titles: make(map[string]string)}
	return &StepOutput{provider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))}
}

func (o *StepOutput) Tracer(name string) trace.Tracer {
	return o.provider.Tracer(name)
}

func (o *StepOutput) Close() {
	_ = o.provider.Shutdown(context.Background())
}

func formatStepLine(status stepStatus, title, msg string) string {
	prefix := "[..]"
	switch status {
	case stepRunning:
		prefix = "[->]"
	case stepDone:
		prefix = "[ok]"
	case stepFailed:
		prefix = "[x]"
	case stepSkipped:
		prefix = "[--]"
	}
	line := "  " + prefix + " " + title
	if msg = strings.TrimSpace(msg); msg != "" {
		line += " (" + msg + ")"
	}
	return line
}

type stepPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	titles map[string]string
}

func (p *stepPrinter) OnStart(_ context.Context, span sdktrace.ReadWriteSpan) {
	if span.Parent().IsValid() {
		return
	}
	raw := attributeValue(span.Attributes(), telemetry.PlanJSONKey)
	if raw == "" {
		return
	}
	var plan telemetry.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return
	}
	p.mu.Lock()
	for _, s := range plan.Steps {
		p.titles[s.ID] = plan.Title(s.ID)
	}
	p.mu.Unlock()
}

func (p *stepPrinter) OnEnd(span sdktrace.ReadOnlySpan) {
	if !span.Parent().IsValid() {
		return
	}
	status, msg := stepDone, ""
	switch {
	case attributeValue(span.Attributes(), telemetry.StepSkippedKey) == "true":
		status, msg = stepSkipped, attributeValue(span.Attributes(), telemetry.StepReasonKey)
	case span.Status().Code == codes.Error:
		status, msg = stepFailed, span.Status().Description
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	title, ok := p.titles[span.Name()]
	if !ok {
		title = span.Name()
	}
	fmt.Fprintln(p.w, formatStepLine(status, title, msg))
}

func (p *stepPrinter) Shutdown(context.Context) error   { return nil }
func (p *stepPrinter) ForceFlush(context.Context) error { return nil }

func attributeValue(attrs []attribute.KeyValue, key string) string {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value.Emit()
		}
	}
	return ""
}
