package manifest

import (
	"context"
	"fmt"

	"github.com/compose-spec/compose-go/v2/loader"
	compose "github.com/compose-spec/compose-go/v2/types"
	"github.com/docker/go-connections/nat"
)

const projectName = "meshnet"

// LoadCompose parses a compose manifest into a project rooted at dir.
func LoadCompose(ctx context.Context, dir string, data []byte) (*compose.Project, error) {
	details := compose.ConfigDetails{
		WorkingDir: dir,
		ConfigFiles: []compose.ConfigFile{
			{Filename: ComposeFile, Content: data},
		},
		Environment: compose.Mapping{},
	}

	project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		o.SetProjectName(projectName, true)
		o.SkipResolveEnvironment = true
	})
	if err != nil {
		return nil, fmt.Errorf("parse compose manifest: %w", err)
	}
	if len(project.Services) == 0 {
		return nil, fmt.Errorf("compose manifest has no services")
	}
	return project, nil
}

// Validate checks rendered params and the compose manifest they produce
// before anything is written.
func Validate(ctx context.Context, dir string, p Params, t Topology) error {
	for _, spec := range []string{p.DiscoveryPortSpec(), p.WebUIPortSpec()} {
		if _, err := nat.ParsePortSpec(spec); err != nil {
			return fmt.Errorf("invalid port mapping %q: %w", spec, err)
		}
	}

	data, err := Render(ComposeFile, p)
	if err != nil {
		return err
	}
	project, err := LoadCompose(ctx, dir, data)
	if err != nil {
		return err
	}
	for _, n := range t {
		svc, ok := project.Services[string(n.Name)]
		if !ok {
			return fmt.Errorf("compose manifest is missing service %q", n.Name)
		}
		for _, dep := range n.DependsOn {
			if _, ok := svc.DependsOn[string(dep)]; !ok {
				return fmt.Errorf("service %q must depend on %q", n.Name, dep)
			}
		}
	}
	return nil
}
