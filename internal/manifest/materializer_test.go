package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestMaterializer(t *testing.T) (*Materializer, string) {
	t.Helper()
	dir := t.TempDir()
	return New(dir, filepath.Join(dir, ".meshnet", "manifest.lock"), DefaultParams()), dir
}

func TestEnsureDiscoveryWritesComposeAndDescriptor(t *testing.T) {
	m, dir := newTestMaterializer(t)

	written, err := m.Ensure(context.Background(), Discovery)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("Ensure() wrote %v, want compose file and discovery descriptor", written)
	}

	data, err := os.ReadFile(filepath.Join(dir, ComposeFile))
	if err != nil {
		t.Fatalf("read compose file: %v", err)
	}
	for _, want := range []string{"BIND=0.0.0.0", "PORT=8000", "restart: unless-stopped", "8000:8000/udp", "driver: bridge"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("compose file missing %q:\n%s", want, data)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, WebUIDockerfile)); !os.IsNotExist(err) {
		t.Fatalf("webui descriptor written for discovery: %v", err)
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	m, dir := newTestMaterializer(t)
	if _, err := m.Ensure(context.Background(), WebUI); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	path := filepath.Join(dir, ComposeFile)
	before, _ := os.ReadFile(path)
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}

	written, err := m.Ensure(context.Background(), WebUI)
	if err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if len(written) != 0 {
		t.Fatalf("second Ensure() wrote %v, want nothing", written)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatal("compose file changed on second Ensure()")
	}
	info, _ := os.Stat(path)
	if !info.ModTime().Equal(past) {
		t.Fatalf("compose file mtime = %v, want untouched %v", info.ModTime(), past)
	}
}

func TestEnsureNeverOverwritesEditedFile(t *testing.T) {
	m, dir := newTestMaterializer(t)
	custom := []byte("services: {}\n# operator edit\n")
	if err := os.WriteFile(filepath.Join(dir, ComposeFile), custom, 0o644); err != nil {
		t.Fatal(err)
	}

	written, err := m.Ensure(context.Background(), Discovery)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if len(written) != 1 || filepath.Base(written[0]) != DiscoveryDockerfile {
		t.Fatalf("Ensure() wrote %v, want only %s", written, DiscoveryDockerfile)
	}
	got, _ := os.ReadFile(filepath.Join(dir, ComposeFile))
	if string(got) != string(custom) {
		t.Fatalf("compose file overwritten:\n%s", got)
	}
}

func TestEnsureUnknownService(t *testing.T) {
	m, _ := newTestMaterializer(t)
	if _, err := m.Ensure(context.Background(), Service("db")); err == nil {
		t.Fatal("Ensure(db) error = nil, want unknown service")
	}
}

func TestRenderDockerfile(t *testing.T) {
	data, err := Render(DiscoveryDockerfile, DefaultParams())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{
		"FROM python:3.11-slim",
		"COPY requirements.txt ./requirements.txt",
		"RUN pip install --no-cache-dir -r requirements.txt",
		"ENV PORT=8000",
		"ENV BIND=0.0.0.0",
		"EXPOSE 8000/udp",
		"--port ${PORT} --bind ${BIND}",
		"template v" + TemplateVersion,
	} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("discovery descriptor missing %q:\n%s", want, data)
		}
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	p := DefaultParams()
	p.DiscoveryPort = 70000
	if err := Validate(context.Background(), t.TempDir(), p, DefaultTopology); err == nil {
		t.Fatal("Validate() error = nil, want invalid port")
	}
}

func TestLoadComposeRoundTrip(t *testing.T) {
	data, err := Render(ComposeFile, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	project, err := LoadCompose(context.Background(), t.TempDir(), data)
	if err != nil {
		t.Fatalf("LoadCompose() error = %v", err)
	}
	webui := project.Services["webui"]
	if _, ok := webui.DependsOn["discovery"]; !ok {
		t.Fatalf("webui.DependsOn = %v, want discovery", webui.DependsOn)
	}
	if got := project.Services["discovery"].Restart; got != "unless-stopped" {
		t.Fatalf("discovery restart = %q, want unless-stopped", got)
	}
}

func TestTopologyTargetsAndFiles(t *testing.T) {
	targets, err := DefaultTopology.Targets(WebUI, Discovery)
	if err != nil {
		t.Fatalf("Targets() error = %v", err)
	}
	if len(targets) != 2 || targets[0] != "discovery" || targets[1] != "webui" {
		t.Fatalf("Targets() = %v, want [discovery webui]", targets)
	}
	files, err := DefaultTopology.Files(WebUI)
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	want := []string{ComposeFile, DiscoveryDockerfile, WebUIDockerfile}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Fatalf("Files(webui) = %v, want %v", files, want)
	}
}
