package vm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"meshnet/internal/runner"
)

// PodmanDriver manages machines with `podman machine`.
type PodmanDriver struct {
	Runner runner.Runner
	// Binary defaults to "podman".
	Binary string
}

var _ Driver = (*PodmanDriver)(nil)

func (d *PodmanDriver) bin() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "podman"
}

type podmanInspect struct {
	Name  string `json:"Name"`
	State string `json:"State"`
}

func (d *PodmanDriver) Inspect(ctx context.Context, name string) (Status, error) {
	c := runner.Command(d.bin(), "machine", "inspect", name)
	res, err := d.Runner.Run(ctx, c)
	if err != nil {
		return Status{}, err
	}
	if !res.OK() {
		// podman exits non-zero when the machine does not exist.
		slog.Debug("machine inspect", "component", "vm", "exit", res.ExitCode, "stderr", strings.TrimSpace(res.Stderr))
		return Status{}, nil
	}

	var machines []podmanInspect
	if err := json.Unmarshal([]byte(res.Stdout), &machines); err != nil {
		return Status{}, fmt.Errorf("parse podman machine inspect: %w", err)
	}
	for _, m := range machines {
		if m.Name != "" && m.Name != name {
			continue
		}
		state := strings.ToLower(strings.TrimSpace(m.State))
		return Status{
			Exists:   true,
			Running:  state == "running",
			Starting: state == "starting",
		}, nil
	}
	return Status{}, nil
}

func (d *PodmanDriver) Init(ctx context.Context, spec Spec) error {
	args := []string{"machine", "init"}
	if spec.CPUs > 0 {
		args = append(args, "--cpus", strconv.Itoa(spec.CPUs))
	}
	if spec.MemoryMiB > 0 {
		args = append(args, "--memory", strconv.FormatInt(spec.MemoryMiB, 10))
	}
	if spec.DiskGiB > 0 {
		args = append(args, "--disk-size", strconv.FormatInt(spec.DiskGiB, 10))
	}
	args = append(args, spec.Name)
	return d.run(ctx, args...)
}

func (d *PodmanDriver) Start(ctx context.Context, name string) error {
	return d.run(ctx, "machine", "start", name)
}

func (d *PodmanDriver) Stop(ctx context.Context, name string) error {
	return d.run(ctx, "machine", "stop", name)
}

func (d *PodmanDriver) run(ctx context.Context, args ...string) error {
	c := runner.Command(d.bin(), args...)
	res, err := d.Runner.Run(ctx, c)
	if err != nil {
		return err
	}
	return res.Err(c)
}
