// Package console runs the interactive operator menu.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"meshnet/internal/failure"
	"meshnet/internal/manifest"
	"meshnet/internal/node"
)

// Services is the service controller surface driven by the menu.
type Services interface {
	Start(ctx context.Context, services ...manifest.Service) error
	StopAll(ctx context.Context)
	Status(ctx context.Context) (string, error)
	RestartEngine(ctx context.Context) error
	CanRestartEngine() bool
}

type Launcher interface {
	Launch(ctx context.Context, req node.LaunchRequest, role node.Role) error
}

// Nodes is the node registry.
type Nodes interface {
	AllocateTunAddress(ctx context.Context, role node.Role, cidr string) (string, error)
	List(ctx context.Context) ([]node.Record, error)
}

// View renders loop output for the operator.
type View interface {
	Menu(items []MenuItem)
	Info(msg string)
	Success(msg string)
	Error(err error)
	Status(listing string, nodes []node.Record)
}

// NodeDefaults are the config-derived parts of every node launch.
type NodeDefaults struct {
	Server    string
	Network   string
	LocalPort int
}

type Dependencies struct {
	Services Services
	Launcher Launcher
	Nodes    Nodes
	View     View
	Input    LineReader
	Node     NodeDefaults
	WebUI    bool
}

type Console struct {
	services Services
	launcher Launcher
	nodes    Nodes
	view     View
	input    LineReader
	node     NodeDefaults
	webUI    bool
	log      *slog.Logger
}

func New(deps Dependencies) *Console {
	return &Console{
		services: deps.Services,
		launcher: deps.Launcher,
		nodes:    deps.Nodes,
		view:     deps.View,
		input:    deps.Input,
		node:     deps.Node,
		webUI:    deps.WebUI,
		log:      slog.With("component", "console"),
	}
}

// Run shows the menu until the operator exits, input ends, ctx is
// cancelled or an action fails fatally. Only the last two return an error.
func (c *Console) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		restart := c.services.CanRestartEngine()
		c.view.Menu(Menu(restart))

		line, err := c.input.ReadLine(ctx, "Choice: ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		action, err := ParseAction(line, restart)
		if err != nil {
			c.view.Error(err)
			continue
		}
		if action == ActionExit {
			return nil
		}

		c.log.Debug("dispatch", "action", action)
		if err := c.Dispatch(ctx, action); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if failure.IsFatal(err) {
				return err
			}
			c.view.Error(err)
		}
	}
}

// Dispatch performs a single action.
func (c *Console) Dispatch(ctx context.Context, a Action) error {
	switch a {
	case ActionStartDiscovery:
		return c.startServices(ctx)
	case ActionStartNode:
		return c.startNode(ctx)
	case ActionStartBoth:
		if err := c.startServices(ctx); err != nil {
			return err
		}
		return c.startNode(ctx)
	case ActionStatus:
		return c.status(ctx)
	case ActionStopAll:
		c.services.StopAll(ctx)
		c.view.Success("all services stopped")
		return nil
	case ActionRestartEngine:
		if err := c.services.RestartEngine(ctx); err != nil {
			return err
		}
		c.view.Success("container engine restarted")
		return nil
	case ActionExit:
		return nil
	default:
		return fmt.Errorf("unhandled action %s", a)
	}
}

func (c *Console) startServices(ctx context.Context) error {
	services := []manifest.Service{manifest.Discovery}
	if c.webUI {
		services = append(services, manifest.WebUI)
	}
	if err := c.services.Start(ctx, services...); err != nil {
		return err
	}
	for _, s := range services {
		c.view.Success(fmt.Sprintf("%s started", s))
	}
	return nil
}

func (c *Console) status(ctx context.Context) error {
	listing, err := c.services.Status(ctx)
	if err != nil {
		c.view.Error(err)
		listing = ""
	}
	var nodes []node.Record
	if c.nodes != nil {
		if nodes, err = c.nodes.List(ctx); err != nil {
			return err
		}
	}
	c.view.Status(listing, nodes)
	return nil
}

func (c *Console) startNode(ctx context.Context) error {
	req, role, err := c.promptNode(ctx)
	if err != nil {
		return err
	}
	c.view.Info(fmt.Sprintf("starting %s node %s (tunnel %s)", role, req.NodeID, req.TunAddress))
	if err := c.launcher.Launch(ctx, req, role); err != nil {
		return err
	}
	c.view.Success(fmt.Sprintf("node %s exited", req.NodeID))
	return nil
}

func (c *Console) promptNode(ctx context.Context) (node.LaunchRequest, node.Role, error) {
	req := node.LaunchRequest{
		ServerAddress: c.node.Server,
		NetworkCIDR:   c.node.Network,
		LocalPort:     c.node.LocalPort,
	}

	answer, err := c.input.ReadLine(ctx, "Role (server/client) [client]: ")
	if err != nil {
		return req, "", err
	}
	role, err := node.ParseRole(answer)
	if err != nil {
		return req, "", err
	}

	if answer, err = c.input.ReadLine(ctx, fmt.Sprintf("Node name [%s]: ", role)); err != nil {
		return req, "", err
	}
	req.NodeID = orDefault(answer, string(role))

	if answer, err = c.input.ReadLine(ctx, "Tunnel address [auto]: "); err != nil {
		return req, "", err
	}
	req.TunAddress = strings.TrimSpace(answer)
	if req.TunAddress == "" && c.nodes != nil {
		if req.TunAddress, err = c.nodes.AllocateTunAddress(ctx, role, req.NetworkCIDR); err != nil {
			return req, "", err
		}
	}

	if answer, err = c.input.ReadLine(ctx, "Key (hex, blank to generate) []: "); err != nil {
		return req, "", err
	}
	req.Key = strings.TrimSpace(answer)

	if answer, err = c.input.ReadLine(ctx, fmt.Sprintf("Local port [%d]: ", req.LocalPort)); err != nil {
		return req, "", err
	}
	if s := strings.TrimSpace(answer); s != "" {
		port, err := strconv.Atoi(s)
		if err != nil {
			return req, "", fmt.Errorf("local port %q: %w", s, err)
		}
		req.LocalPort = port
	}
	return req, role, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
