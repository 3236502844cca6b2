package docker

import (
	"time"

	"github.com/docker/go-units"
)

// DefaultMemoryLimit is used when the configured limit cannot be parsed.
const DefaultMemoryLimit int64 = 100 * 1024 * 1024

// ContainerNamePrefix is prepended to the execution ID to name containers.
const ContainerNamePrefix = "code_exec_"

// Labels set on every execution container. LabelOwner identifies the
// process that created it.
const (
	LabelManaged = "coderunner.managed"
	LabelOwner   = "coderunner.owner"
)

// Config holds the configuration for Docker execution.
type Config struct {
	// SocketPath is the daemon control socket (unix path or full host URL).
	SocketPath string
	// Network is the container network mode, e.g. "none".
	Network string
	// MemoryLimit is the memory ceiling in bytes. Swap is disabled by
	// setting the memory+swap ceiling to the same value.
	MemoryLimit int64
	// CPUShares is the relative CPU weight.
	CPUShares int64
	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout time.Duration
	// MaxOutputSize bounds stdout and stderr, in characters.
	MaxOutputSize int
	// QueueSize is how many requests may wait before submitters block.
	QueueSize int
	// SweepOrphans removes stopped containers left behind by earlier
	// processes when the Actor starts. Running containers are never touched.
	SweepOrphans bool
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		SocketPath:     "/var/run/docker.sock",
		Network:        "none",
		MemoryLimit:    DefaultMemoryLimit,
		CPUShares:      512,
		DefaultTimeout: 120 * time.Second,
		MaxOutputSize:  10 * 1024 * 1024,
		QueueSize:      32,
		SweepOrphans:   true,
	}
}

// ParseMemoryLimit converts a human-readable size ("100m", "1g", "512MiB")
// into bytes, falling back to DefaultMemoryLimit.
func ParseMemoryLimit(s string) int64 {
	n, err := units.RAMInBytes(s)
	if err != nil || n <= 0 {
		return DefaultMemoryLimit
	}
	return n
}
