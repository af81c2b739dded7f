package fake

import (
	"context"
	"errors"
	"testing"

	"meshnet/internal/runner"
)

func TestRunnerLongestPrefixWins(t *testing.T) {
	r := NewRunner().
		On("podman", Exit(1, "generic")).
		On("podman machine inspect", OK("[]"))

	res, err := r.Run(context.Background(), runner.Command("podman", "machine", "inspect", "meshnet"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "[]" {
		t.Fatalf("Run().Stdout = %q, want []", res.Stdout)
	}
}

func TestRunnerResponsesConsumedThenRepeat(t *testing.T) {
	r := NewRunner().On("docker ps", Exit(1, ""), OK(""))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		res, _ := r.Run(context.Background(), runner.Command("docker", "ps"))
		codes = append(codes, res.ExitCode)
	}
	if codes[0] != 1 || codes[1] != 0 || codes[2] != 0 {
		t.Fatalf("exit codes = %v, want [1 0 0]", codes)
	}
	if got := r.Count("docker ps"); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}
}

func TestRunnerLookPath(t *testing.T) {
	r := NewRunner().Install("docker")
	if p, err := r.LookPath("docker"); err != nil || p != "/usr/bin/docker" {
		t.Fatalf("LookPath(docker) = %q, %v", p, err)
	}
	if _, err := r.LookPath("podman"); !errors.Is(err, runner.ErrNotFound) {
		t.Fatalf("LookPath(podman) error = %v, want ErrNotFound", err)
	}
}

func TestCallRecorderFilters(t *testing.T) {
	var rec CallRecorder
	rec.Record("Init", "meshnet")
	rec.Record("Start", "meshnet")
	rec.Record("Start", "meshnet")
	if got := len(rec.Calls("Start")); got != 2 {
		t.Fatalf("Calls(Start) = %d, want 2", got)
	}
	if got := len(rec.Calls("")); got != 3 {
		t.Fatalf("Calls(\"\") = %d, want 3", got)
	}
	rec.Reset()
	if got := len(rec.Methods()); got != 0 {
		t.Fatalf("Methods() after Reset = %d, want 0", got)
	}
}
