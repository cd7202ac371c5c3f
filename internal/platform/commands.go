// Package platform detects the host operating system and maps the network
// diagnostics onto the command flavor it ships.
package platform

import (
	"runtime"
	"strconv"
)

// Platform identifies a command flavor.
type Platform string

const (
	MacOS   Platform = "macos"
	Linux   Platform = "linux"
	Windows Platform = "windows"
	Unknown Platform = "unknown"
)

// Detect maps a GOOS value to a Platform.
func Detect(goos string) Platform {
	switch goos {
	case "darwin":
		return MacOS
	case "linux", "freebsd", "openbsd", "netbsd":
		return Linux
	case "windows":
		return Windows
	default:
		return Unknown
	}
}

// Current returns the platform of the running binary.
func Current() Platform {
	return Detect(runtime.GOOS)
}

// Command is an executable name and its arguments.
type Command struct {
	Name string
	Args []string
}

// Ping sends count echo requests.
func (p Platform) Ping(count int, target string) Command {
	if p == Windows {
		return Command{Name: "ping", Args: []string{"-n", strconv.Itoa(count), target}}
	}
	return Command{Name: "ping", Args: []string{"-c", strconv.Itoa(count), target}}
}

// Trace follows the route to target for at most maxHops hops.
func (p Platform) Trace(maxHops int, target string) Command {
	if p == Windows {
		return Command{Name: "tracert", Args: []string{"-h", strconv.Itoa(maxHops), target}}
	}
	return Command{Name: "traceroute", Args: []string{"-m", strconv.Itoa(maxHops), target}}
}

// Lookup resolves target. nslookup has the same syntax everywhere.
func (p Platform) Lookup(target string) Command {
	return Command{Name: "nslookup", Args: []string{target}}
}
