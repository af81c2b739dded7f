package ui

import (
	"errors"
	"strings"
	"testing"
)

func TestEnvTruthyValues(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  bool
	}{
		{name: "one", value: "1", want: true},
		{name: "true", value: "true", want: true},
		{name: "yes upper", value: " YES ", want: true},
		{name: "on", value: "on", want: true},
		{name: "zero", value: "0", want: false},
		{name: "false", value: "false", want: false},
		{name: "empty", value: "", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("MESHNET_TEST_TRUTHY", tc.value)
			if got := envTruthy("MESHNET_TEST_TRUTHY"); got != tc.want {
				t.Fatalf("envTruthy() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNoInteractionBlocksPrompts(t *testing.T) {
	ConfigureInteraction(true)
	t.Cleanup(func() { ConfigureInteraction(true) })

	if IsInteractive() {
		t.Fatal("IsInteractive() = true after ConfigureInteraction(true)")
	}
	err := RequireInteraction("set engine.remote_host")
	var noInt *ErrNoInteraction
	if !errors.As(err, &noInt) || noInt.Hint != "set engine.remote_host" {
		t.Fatalf("RequireInteraction() = %v, want *ErrNoInteraction with hint", err)
	}
	if _, err := Prompt("Remote host", "", "set engine.remote_host"); !errors.As(err, &noInt) {
		t.Fatalf("Prompt() error = %v, want *ErrNoInteraction", err)
	}
}

func TestCIDisablesInteraction(t *testing.T) {
	t.Setenv(envCI, "true")
	if detectInteractive(false) {
		t.Fatal("detectInteractive() = true with CI set")
	}
	t.Setenv(envCI, "")
	t.Setenv(envTerm, "dumb")
	if detectInteractive(false) {
		t.Fatal("detectInteractive() = true with TERM=dumb")
	}
}

func TestKeyValuesAligned(t *testing.T) {
	ConfigureInteraction(true)
	got := KeyValues("  ", KV("engine", "docker"), KV("compose", "docker compose"))
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("KeyValues() = %q", got)
	}
	if strings.Index(lines[0], "docker") != strings.Index(lines[1], "docker compose") {
		t.Fatalf("KeyValues() values not aligned:\n%s", got)
	}
}
