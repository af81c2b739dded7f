// Package manifest writes the compose manifest and build descriptors the
// services are started from. Files are only ever created, never rewritten.
package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"meshnet/internal/fsutil"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 100 * time.Millisecond

type Materializer struct {
	dir      string
	lockPath string
	params   Params
	topology Topology
	log      *slog.Logger
}

// New returns a Materializer writing into dir. lockPath guards file
// creation against a second meshnet process in the same directory.
func New(dir, lockPath string, p Params) *Materializer {
	if lockPath == "" {
		lockPath = filepath.Join(dir, ".meshnet", "manifest.lock")
	}
	return &Materializer{
		dir:      dir,
		lockPath: lockPath,
		params:   p,
		topology: DefaultTopology,
		log:      slog.With("component", "manifest"),
	}
}

func (m *Materializer) Dir() string         { return m.dir }
func (m *Materializer) ComposePath() string { return filepath.Join(m.dir, ComposeFile) }
func (m *Materializer) Topology() Topology  { return m.topology }

// Ensure creates any missing file that svc needs and returns the paths it
// wrote. Existing files are neither read nor compared.
func (m *Materializer) Ensure(ctx context.Context, svc Service) ([]string, error) {
	files, err := m.topology.Files(svc)
	if err != nil {
		return nil, err
	}
	if len(m.missing(files)) == 0 {
		return nil, nil
	}

	if err := fsutil.EnsureDirs(m.dir, filepath.Dir(m.lockPath)); err != nil {
		return nil, err
	}
	fl := flock.New(m.lockPath)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock manifests: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock manifests: %s is held by another process", m.lockPath)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			m.log.Warn("unlock manifests", "err", err)
		}
	}()

	// Another process may have written them while we waited.
	missing := m.missing(files)
	if len(missing) == 0 {
		return nil, nil
	}
	if err := Validate(ctx, m.dir, m.params, m.topology); err != nil {
		return nil, err
	}

	written := make([]string, 0, len(missing))
	for _, name := range missing {
		data, err := Render(name, m.params)
		if err != nil {
			return written, err
		}
		path := filepath.Join(m.dir, name)
		if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", name, err)
		}
		m.log.Info("generated manifest", "file", path)
		written = append(written, path)
	}
	return written, nil
}

func (m *Materializer) missing(files []string) []string {
	var out []string
	for _, name := range files {
		if !fsutil.Exists(filepath.Join(m.dir, name)) {
			out = append(out, name)
		}
	}
	return out
}
