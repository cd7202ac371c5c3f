package platform

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := map[string]Platform{
		"darwin":  MacOS,
		"linux":   Linux,
		"freebsd": Linux,
		"windows": Windows,
		"plan9":   Unknown,
	}
	for goos, want := range tests {
		assert.Equal(t, want, Detect(goos), goos)
	}
	assert.Equal(t, Detect(runtime.GOOS), Current())
}

func TestCommands(t *testing.T) {
	assert.Equal(t, Command{Name: "ping", Args: []string{"-c", "4", "google.com"}}, Linux.Ping(4, "google.com"))
	assert.Equal(t, Command{Name: "ping", Args: []string{"-c", "2", "10.0.0.1"}}, MacOS.Ping(2, "10.0.0.1"))
	assert.Equal(t, Command{Name: "ping", Args: []string{"-n", "4", "google.com"}}, Windows.Ping(4, "google.com"))

	assert.Equal(t, Command{Name: "traceroute", Args: []string{"-m", "15", "google.com"}}, Linux.Trace(15, "google.com"))
	assert.Equal(t, Command{Name: "tracert", Args: []string{"-h", "15", "google.com"}}, Windows.Trace(15, "google.com"))

	assert.Equal(t, Command{Name: "nslookup", Args: []string{"example.org"}}, Unknown.Lookup("example.org"))
}
