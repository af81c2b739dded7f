package runner

import (
	"context"
	"strings"
	"testing"
)

func TestCommandString(t *testing.T) {
	got := Command("docker", "compose", "-f", "docker-compose.yml", "ps")
	if got.Name != "docker" {
		t.Fatalf("Command().Name = %q, want docker", got.Name)
	}
	want := "docker compose -f docker-compose.yml ps"
	if got.String() != want {
		t.Fatalf("Command().String() = %q, want %q", got.String(), want)
	}
}

func TestResultErr(t *testing.T) {
	c := Command("podman", "ps")
	if err := (Result{}).Err(c); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
	err := Result{ExitCode: 125, Stderr: "cannot connect\n"}.Err(c)
	if err == nil {
		t.Fatal("Err() = nil, want error")
	}
	if got, want := err.Error(), "podman ps failed (exit 125): cannot connect"; got != want {
		t.Fatalf("Err() = %q, want %q", got, want)
	}
}

func TestExecRunCapturesExitCode(t *testing.T) {
	sh, err := New().LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	res, err := New().Run(context.Background(), Command(sh, "-c", "echo out; echo err >&2; exit 3"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("Run().ExitCode = %d, want 3", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "out" || strings.TrimSpace(res.Stderr) != "err" {
		t.Fatalf("Run() output = %q/%q, want out/err", res.Stdout, res.Stderr)
	}
}

func TestExecRunMissingBinary(t *testing.T) {
	if _, err := New().Run(context.Background(), Command("meshnet-does-not-exist")); err == nil {
		t.Fatal("Run() error = nil, want start failure")
	}
}
