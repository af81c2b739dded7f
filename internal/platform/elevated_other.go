//go:build !unix && !windows

package platform

func Elevated() bool { return false }
