package node

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrAddressPoolExhausted is returned when every client address in the
// network is taken.
var ErrAddressPoolExhausted = errors.New("no free tunnel address left in network")

// Record is a launched node.
type Record struct {
	Name       string
	Role       Role
	TunAddress string
	Server     string
	PID        int
	LaunchedAt time.Time
}

// Registry persists launched nodes in SQLite.
type Registry struct {
	db *sql.DB
}

func OpenRegistry(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("open node registry: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS nodes (
	name TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	tun_address TEXT NOT NULL,
	server TEXT NOT NULL,
	pid INTEGER NOT NULL DEFAULT 0,
	launched_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize node registry schema: %w", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Save inserts rec or replaces the node with the same name.
func (r *Registry) Save(ctx context.Context, rec Record) error {
	if rec.LaunchedAt.IsZero() {
		rec.LaunchedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO nodes (name, role, tun_address, server, pid, launched_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		 role = excluded.role,
		 tun_address = excluded.tun_address,
		 server = excluded.server,
		 pid = excluded.pid,
		 launched_at = excluded.launched_at`,
		rec.Name,
		string(rec.Role),
		rec.TunAddress,
		rec.Server,
		rec.PID,
		rec.LaunchedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save node %s: %w", rec.Name, err)
	}
	return nil
}

// Delete removes the node called name. Unknown names are not an error.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete node %s: %w", name, err)
	}
	return nil
}

// List returns every node ordered by name.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, role, tun_address, server, pid, launched_at FROM nodes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var role, launched string
		if err := rows.Scan(&rec.Name, &role, &rec.TunAddress, &rec.Server, &rec.PID, &launched); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		rec.Role = Role(role)
		if rec.LaunchedAt, err = time.Parse(time.RFC3339, launched); err != nil {
			return nil, fmt.Errorf("parse launch time of %s: %w", rec.Name, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AllocateTunAddress picks a tunnel address in cidr. The server always gets
// the first host address. Clients get the lowest free address from the
// second host up to .253 of the first /24.
func (r *Registry) AllocateTunAddress(ctx context.Context, role Role, cidr string) (string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return "", fmt.Errorf("parse network %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return "", fmt.Errorf("network %s: only IPv4 tunnel networks are supported", prefix)
	}
	base := prefix.Masked().Addr().As4()
	host := func(n byte) netip.Addr {
		b := base
		b[3] = n
		return netip.AddrFrom4(b)
	}
	if role == RoleServer {
		return host(1).String(), nil
	}

	nodes, err := r.List(ctx)
	if err != nil {
		return "", err
	}
	used := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		used[n.TunAddress] = true
	}
	for i := 2; i < 254; i++ {
		addr := host(byte(i))
		if !prefix.Contains(addr) {
			break
		}
		if !used[addr.String()] {
			return addr.String(), nil
		}
	}
	return "", fmt.Errorf("%w %s", ErrAddressPoolExhausted, prefix)
}

// openDB opens a SQLite database with WAL mode and a busy timeout.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}
