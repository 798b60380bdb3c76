// Package version holds build metadata for the registry proxy. The variables
// are overridden with -ldflags at build time.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// ServiceName is reported by the liveness endpoint and used as the
// OpenTelemetry service name when none is configured.
const ServiceName = "plgn-registry-proxy"

var (
	// Version is the release version of the proxy.
	// Set via: -ldflags "-X registryproxy/internal/version.Version=..."
	Version = "1.0.0"

	// BuildDate is the ISO 8601 UTC timestamp of the build.
	BuildDate = "unknown"

	// GitCommit is the commit SHA the binary was built from.
	GitCommit = "unknown"
)

// Info holds build metadata plus per-process identity.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns build metadata. Instance ID and hostname are computed on
// the first call and cached.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.New().String(),
			Hostname:   hostname(),
		}
	})
	return info
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// String formats version info for CLI display.
func (i Info) String() string {
	return fmt.Sprintf("%s version %s (commit: %s, built: %s)", ServiceName, i.Version, i.GitCommit, i.BuildDate)
}
