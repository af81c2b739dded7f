package manifest

import (
	"fmt"
	"slices"
)

// Service names a containerised service.
type Service string

const (
	Discovery Service = "discovery"
	WebUI     Service = "webui"
)

type Node struct {
	Name      Service
	DependsOn []Service
	// Files are the manifest files the service needs to build.
	Files []string
}

// Topology is the ordered set of services. It only decides compose
// targets and required files; compose itself handles start order.
type Topology []Node

var DefaultTopology = Topology{
	{Name: Discovery, Files: []string{ComposeFile, DiscoveryDockerfile}},
	{Name: WebUI, DependsOn: []Service{Discovery}, Files: []string{ComposeFile, WebUIDockerfile}},
}

func (t Topology) node(s Service) (Node, bool) {
	for _, n := range t {
		if n.Name == s {
			return n, true
		}
	}
	return Node{}, false
}

// Targets returns the requested services in topology order.
func (t Topology) Targets(services ...Service) ([]string, error) {
	want := make(map[Service]bool, len(services))
	for _, s := range services {
		if _, ok := t.node(s); !ok {
			return nil, fmt.Errorf("unknown service %q", s)
		}
		want[s] = true
	}
	out := make([]string, 0, len(want))
	for _, n := range t {
		if want[n.Name] {
			out = append(out, string(n.Name))
		}
	}
	return out, nil
}

// Files returns every file needed to bring up s, including the files of
// the services it depends on.
func (t Topology) Files(s Service) ([]string, error) {
	n, ok := t.node(s)
	if !ok {
		return nil, fmt.Errorf("unknown service %q", s)
	}
	var out []string
	for _, dep := range n.DependsOn {
		files, err := t.Files(dep)
		if err != nil {
			return nil, err
		}
		out = appendNew(out, files...)
	}
	return appendNew(out, n.Files...), nil
}

func appendNew(dst []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(dst, it) {
			dst = append(dst, it)
		}
	}
	return dst
}
