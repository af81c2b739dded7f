// Package config loads meshnet settings.
//
// Settings come from built-in defaults, then the first config file found in
// the working directory (meshnet.local.yaml, then meshnet.yaml), then
// MESHNET_* environment variables. When no file exists, meshnet.yaml is
// written with the defaults so operators have something to edit.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"meshnet/internal/fsutil"
	"meshnet/internal/logging"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	FileName      = "meshnet.yaml"
	LocalFileName = "meshnet.local.yaml"
	EnvPrefix     = "MESHNET"

	DefaultDataDir = ".meshnet"
)

type Discovery struct {
	Port            int    `mapstructure:"port"`
	Bind            string `mapstructure:"bind"`
	ExternalAddress string `mapstructure:"external_address"`
}

type VPN struct {
	Network    string `mapstructure:"network"`
	Port       int    `mapstructure:"port"`
	EnableIPv6 bool   `mapstructure:"enable_ipv6"`
}

type WebUI struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Machine sizes the VM used on hosts that cannot run containers natively.
// Memory and Disk accept human-readable sizes such as "2048MB" or "20GB".
type Machine struct {
	Name   string `mapstructure:"name"`
	CPUs   int    `mapstructure:"cpus"`
	Memory string `mapstructure:"memory"`
	Disk   string `mapstructure:"disk"`
}

// MemoryMiB returns Memory in mebibytes.
func (m Machine) MemoryMiB() (int64, error) {
	b, err := units.RAMInBytes(m.Memory)
	if err != nil {
		return 0, fmt.Errorf("parse machine memory %q: %w", m.Memory, err)
	}
	return b / units.MiB, nil
}

// DiskGiB returns Disk in gibibytes.
func (m Machine) DiskGiB() (int64, error) {
	b, err := units.RAMInBytes(m.Disk)
	if err != nil {
		return 0, fmt.Errorf("parse machine disk %q: %w", m.Disk, err)
	}
	return b / units.GiB, nil
}

type Engine struct {
	// RemoteHost is the docker daemon to probe and drive instead of the
	// local one.
	RemoteHost    string  `mapstructure:"remote_host"`
	DockerVersion string  `mapstructure:"docker_version"`
	Machine       Machine `mapstructure:"machine"`
}

type Retry struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Delay        time.Duration `mapstructure:"delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollBound    int           `mapstructure:"poll_bound"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
}

type Python struct {
	Venv string `mapstructure:"venv"`
}

type Config struct {
	Discovery Discovery `mapstructure:"discovery"`
	VPN       VPN       `mapstructure:"vpn"`
	WebUI     WebUI     `mapstructure:"webui"`
	Engine    Engine    `mapstructure:"engine"`
	Retry     Retry     `mapstructure:"retry"`
	Python    Python    `mapstructure:"python"`
	LogLevel  string    `mapstructure:"log_level"`
	DataDir   string    `mapstructure:"data_dir"`

	// WorkDir is where manifests live. Not read from the file.
	WorkDir string `mapstructure:"-"`
	// Source is the file the settings were read from.
	Source string `mapstructure:"-"`
}

// Defaults returns the built-in settings keyed the way they appear in the
// config file.
func Defaults() map[string]any {
	return map[string]any{
		"discovery": map[string]any{
			"port":             8000,
			"bind":             "0.0.0.0",
			"external_address": "",
		},
		"vpn": map[string]any{
			"network":     "10.0.0.0/24",
			"port":        0,
			"enable_ipv6": false,
		},
		"webui": map[string]any{
			"enabled": false,
			"port":    8080,
		},
		"engine": map[string]any{
			"remote_host":    "",
			"docker_version": "27.5.1",
			"machine": map[string]any{
				"name":   "meshnet",
				"cpus":   2,
				"memory": "2048MB",
				"disk":   "20GB",
			},
		},
		"retry": map[string]any{
			"max_attempts":  3,
			"delay":         "5s",
			"poll_interval": "1s",
			"poll_bound":    30,
			"settle_delay":  "5s",
		},
		"python": map[string]any{
			"venv": "venv",
		},
		"log_level": "warn",
		"data_dir":  DefaultDataDir,
	}
}

// Load resolves settings for workdir. An explicit path must exist.
func Load(path, workdir string) (*Config, error) {
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		workdir = wd
	}

	v := viper.New()
	setDefaults(v, "", Defaults())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		found, err := discover(workdir)
		if err != nil {
			return nil, err
		}
		path = found
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.WorkDir = workdir
	cfg.Source = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// discover returns the first existing config file in workdir, writing the
// default file when none exists.
func discover(workdir string) (string, error) {
	for _, name := range []string{LocalFileName, FileName} {
		p := filepath.Join(workdir, name)
		if fsutil.Exists(p) {
			return p, nil
		}
	}
	p := filepath.Join(workdir, FileName)
	if err := WriteDefault(p); err != nil {
		return "", err
	}
	return p, nil
}

// WriteDefault writes the built-in settings to path as YAML.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := fsutil.EnsureDirs(filepath.Dir(path)); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}

func (c *Config) Validate() error {
	var errs []error
	if err := validPort(c.Discovery.Port, false); err != nil {
		errs = append(errs, fmt.Errorf("discovery.port: %w", err))
	}
	if c.Discovery.Bind != "" && net.ParseIP(c.Discovery.Bind) == nil {
		errs = append(errs, fmt.Errorf("discovery.bind: %q is not an IP address", c.Discovery.Bind))
	}
	if err := validPort(c.VPN.Port, true); err != nil {
		errs = append(errs, fmt.Errorf("vpn.port: %w", err))
	}
	if _, err := netip.ParsePrefix(c.VPN.Network); err != nil {
		errs = append(errs, fmt.Errorf("vpn.network: %w", err))
	}
	if err := validPort(c.WebUI.Port, false); err != nil {
		errs = append(errs, fmt.Errorf("webui.port: %w", err))
	}
	if c.Engine.Machine.Name == "" {
		errs = append(errs, errors.New("engine.machine.name is required"))
	}
	if c.Engine.Machine.CPUs < 1 {
		errs = append(errs, errors.New("engine.machine.cpus must be at least 1"))
	}
	if _, err := c.Engine.Machine.MemoryMiB(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Engine.Machine.DiskGiB(); err != nil {
		errs = append(errs, err)
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.PollBound < 1 {
		errs = append(errs, errors.New("retry.poll_bound must be at least 1"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validPort(p int, allowZero bool) error {
	if p == 0 && allowZero {
		return nil
	}
	if p < 1 || p > 65535 {
		return fmt.Errorf("%d is out of range", p)
	}
	return nil
}

// ServerAddress is the discovery endpoint handed to VPN nodes.
func (c *Config) ServerAddress() string {
	host := c.Discovery.ExternalAddress
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, fmt.Sprint(c.Discovery.Port))
}

// DataPath returns the absolute state directory.
func (c *Config) DataPath() string {
	dir := c.DataDir
	if dir == "" {
		dir = DefaultDataDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.WorkDir, dir)
}

func (c *Config) ToolsDir() string     { return filepath.Join(c.DataPath(), "tools") }
func (c *Config) RegistryPath() string { return filepath.Join(c.DataPath(), "nodes.db") }
func (c *Config) LockPath() string     { return filepath.Join(c.DataPath(), "manifest.lock") }

// VenvPath returns the configured virtual environment, relative to WorkDir.
func (c *Config) VenvPath() string {
	if c.Python.Venv == "" || filepath.IsAbs(c.Python.Venv) {
		return c.Python.Venv
	}
	return filepath.Join(c.WorkDir, c.Python.Venv)
}
