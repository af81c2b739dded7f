// Package platform answers questions about the host the tool runs on.
package platform

import "runtime"

// Host describes the current machine.
type Host struct {
	GOOS     string
	GOARCH   string
	Elevated bool
}

// Current inspects the running process.
func Current() Host {
	return Host{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH, Elevated: Elevated()}
}

// Unix reports whether goos uses sudo for elevation.
func Unix(goos string) bool {
	switch goos {
	case "linux", "darwin", "freebsd", "openbsd", "netbsd":
		return true
	}
	return false
}

// ElevationHint tells the operator how to rerun with privileges on goos.
func ElevationHint(goos string) string {
	if goos == "windows" {
		return "run meshnet from a terminal opened with \"Run as administrator\""
	}
	return "rerun meshnet with sudo, or allow passwordless sudo for the VPN node"
}
