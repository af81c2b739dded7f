package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/client"
)

const pingTimeout = 5 * time.Second

// PingDocker asks the Docker API whether the daemon is alive. host
// overrides DOCKER_HOST when set.
func PingDocker(ctx context.Context, host string) error {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping docker daemon: %w", err)
	}
	return nil
}

// permissionHint explains a daemon that exists but refuses the current user.
func permissionHint(err error) string {
	if errdefs.IsPermissionDenied(err) || errdefs.IsUnauthorized(err) {
		return "the docker daemon refused this user; add it to the docker group or run with sudo"
	}
	return ""
}
