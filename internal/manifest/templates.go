package manifest

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// TemplateVersion is stamped into every generated file. Bump it when a
// template changes so generated files can be told apart.
const TemplateVersion = "1"

const (
	ComposeFile         = "docker-compose.yml"
	DiscoveryDockerfile = "Dockerfile.discovery"
	WebUIDockerfile     = "Dockerfile.webui"
)

// Params are the substitutions applied to the templates.
type Params struct {
	Version        string
	Network        string
	BaseImage      string
	Files          []string
	InstallCommand string

	DiscoveryBind string
	DiscoveryPort int
	WebUIPort     int
}

func (p Params) DiscoveryPortSpec() string {
	return fmt.Sprintf("%d:%d/udp", p.DiscoveryPort, p.DiscoveryPort)
}

func (p Params) WebUIPortSpec() string {
	return fmt.Sprintf("%d:%d", p.WebUIPort, p.WebUIPort)
}

func DefaultParams() Params {
	return Params{
		Version:        TemplateVersion,
		Network:        "meshnet",
		BaseImage:      "python:3.11-slim",
		Files:          []string{"requirements.txt", "meshnet/"},
		InstallCommand: "pip install --no-cache-dir -r requirements.txt",
		DiscoveryBind:  "0.0.0.0",
		DiscoveryPort:  8000,
		WebUIPort:      8080,
	}
}

const composeTemplate = `# Generated by meshnet (template v{{ .Version }}). meshnet never overwrites this file.
version: "3.8"

services:
  discovery:
    build:
      context: .
      dockerfile: ` + DiscoveryDockerfile + `
    ports:
      - "{{ .DiscoveryPortSpec }}"
    environment:
      - BIND={{ .DiscoveryBind }}
      - PORT={{ .DiscoveryPort }}
    restart: unless-stopped
    networks:
      - {{ .Network }}

  webui:
    build:
      context: .
      dockerfile: ` + WebUIDockerfile + `
    ports:
      - "{{ .WebUIPortSpec }}"
    environment:
      - PORT={{ .WebUIPort }}
      - DISCOVERY_HOST=discovery
      - DISCOVERY_PORT={{ .DiscoveryPort }}
    depends_on:
      - discovery
    restart: unless-stopped
    networks:
      - {{ .Network }}

networks:
  {{ .Network }}:
    driver: bridge
`

const discoveryTemplate = `# Generated by meshnet (template v{{ .Version }}).
FROM {{ .BaseImage }}

WORKDIR /app
{{ range .Files }}COPY {{ . }} ./{{ . }}
{{ end }}
RUN {{ .InstallCommand }}

ENV PORT={{ .DiscoveryPort }}
ENV BIND={{ .DiscoveryBind }}

EXPOSE {{ .DiscoveryPort }}/udp

CMD ["sh", "-c", "python -m meshnet.discovery.discovery_server --port ${PORT} --bind ${BIND}"]
`

const webUITemplate = `# Generated by meshnet (template v{{ .Version }}).
FROM {{ .BaseImage }}

WORKDIR /app
{{ range .Files }}COPY {{ . }} ./{{ . }}
{{ end }}
RUN {{ .InstallCommand }}

ENV PORT={{ .WebUIPort }}
ENV BIND=0.0.0.0
ENV DISCOVERY_HOST=discovery
ENV DISCOVERY_PORT={{ .DiscoveryPort }}

EXPOSE {{ .WebUIPort }}

CMD ["sh", "-c", "python -m meshnet.webui --port ${PORT} --bind ${BIND} --discovery ${DISCOVERY_HOST}:${DISCOVERY_PORT}"]
`

var templates = map[string]*template.Template{
	ComposeFile:         template.Must(template.New(ComposeFile).Option("missingkey=error").Parse(composeTemplate)),
	DiscoveryDockerfile: template.Must(template.New(DiscoveryDockerfile).Option("missingkey=error").Parse(discoveryTemplate)),
	WebUIDockerfile:     template.Must(template.New(WebUIDockerfile).Option("missingkey=error").Parse(webUITemplate)),
}

// Render produces the content of the named file.
func Render(name string, p Params) ([]byte, error) {
	tmpl, ok := templates[name]
	if !ok {
		return nil, fmt.Errorf("no template for %q", name)
	}
	if strings.TrimSpace(p.Version) == "" {
		p.Version = TemplateVersion
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
