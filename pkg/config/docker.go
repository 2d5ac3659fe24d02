package config

import (
	"os"
	"sync"
)

// dockerHostAlias reaches services published on the Docker host.
const dockerHostAlias = "host.docker.internal"

var isRunningInDocker = sync.OnceValue(func() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
})

// IsRunningInDocker reports whether the process runs inside a Docker container,
// detected by the /.dockerenv file. The result is computed once.
func IsRunningInDocker() bool {
	return isRunningInDocker()
}

// ResolveHostForDocker rewrites loopback hosts to the Docker host alias when
// running inside a container, so a config written for the host machine keeps
// working. Empty and non-loopback hosts are returned unchanged.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}

	switch host {
	case "localhost", "127.0.0.1", "::1":
		return dockerHostAlias
	}
	return host
}
