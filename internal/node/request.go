// Package node launches the VPN node process and keeps a registry of the
// nodes started from this working directory.
package node

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// KeyLength is the size in bytes of a node's symmetric key.
const KeyLength = 32

type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleServer, "s":
		return RoleServer, nil
	case RoleClient, "c", "":
		return RoleClient, nil
	default:
		return "", fmt.Errorf("unknown node role %q (want server or client)", s)
	}
}

// LaunchRequest is the argument set handed to the VPN node.
type LaunchRequest struct {
	ServerAddress string
	NodeID        string
	LocalPort     int
	TunAddress    string
	NetworkCIDR   string
	Key           string
}

// Validate checks the request before anything is executed.
func (r LaunchRequest) Validate() error {
	var errs []error

	host, port, err := net.SplitHostPort(r.ServerAddress)
	if err != nil {
		errs = append(errs, fmt.Errorf("server address %q: %w", r.ServerAddress, err))
	} else {
		if host == "" {
			errs = append(errs, fmt.Errorf("server address %q: host is required", r.ServerAddress))
		}
		if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
			errs = append(errs, fmt.Errorf("server address %q: invalid port", r.ServerAddress))
		}
	}
	if r.LocalPort < 0 || r.LocalPort > 65535 {
		errs = append(errs, fmt.Errorf("local port %d out of range", r.LocalPort))
	}

	prefix, err := netip.ParsePrefix(r.NetworkCIDR)
	if err != nil {
		errs = append(errs, fmt.Errorf("network %q: %w", r.NetworkCIDR, err))
	}
	if r.TunAddress != "" {
		addr, err := parseTun(r.TunAddress)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("tunnel address %q: %w", r.TunAddress, err))
		case prefix.IsValid() && !prefix.Contains(addr):
			errs = append(errs, fmt.Errorf("tunnel address %s is outside %s", addr, prefix))
		}
	}
	if r.Key != "" {
		if err := ValidateKey(r.Key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Args returns the VPN node's command-line flags. Optional fields are
// omitted when unset and the local port is omitted when zero.
func (r LaunchRequest) Args() []string {
	args := []string{"--server", r.ServerAddress}
	if r.NodeID != "" {
		args = append(args, "--id", r.NodeID)
	}
	if r.LocalPort != 0 {
		args = append(args, "--port", strconv.Itoa(r.LocalPort))
	}
	if r.TunAddress != "" {
		args = append(args, "--tun", r.TunAddress)
	}
	args = append(args, "--network", r.NetworkCIDR)
	if r.Key != "" {
		args = append(args, "--key", r.Key)
	}
	return args
}

// ValidateKey checks that key is KeyLength bytes of hex.
func ValidateKey(key string) error {
	if len(key) != hex.EncodedLen(KeyLength) {
		return fmt.Errorf("key must be %d hex characters, got %d", hex.EncodedLen(KeyLength), len(key))
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("key is not valid hex: %w", err)
	}
	return nil
}

// parseTun accepts a bare address or one with a prefix length.
func parseTun(s string) (netip.Addr, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Addr{}, err
		}
		return p.Addr(), nil
	}
	return netip.ParseAddr(s)
}
