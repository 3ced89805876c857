package transport

import (
	"strings"
)

// DefaultContainerImage runs the bundled runner when no override is given.
const DefaultContainerImage = "ghcr.io/peopleworks/ason-runner:latest"

// ContainerConfig describes a containerised runner. The wire format is the
// same as the stdio transport; only the launcher differs.
type ContainerConfig struct {
	// Image overrides DefaultContainerImage.
	Image string

	// Runtime is the container CLI, "docker" unless overridden.
	Runtime string

	// ExtraArgs are inserted before the image name (volume mounts, limits).
	ExtraArgs []string
}

// NewContainer builds a transport that launches the runner image attached to
// stdin/stdout. The container is removed when the session ends.
func NewContainer(cfg ContainerConfig, cb Callbacks) (*Stdio, error) {
	image := strings.TrimSpace(cfg.Image)
	if image == "" {
		image = DefaultContainerImage
	}
	runtime := strings.TrimSpace(cfg.Runtime)
	if runtime == "" {
		runtime = "docker"
	}

	args := []string{"run", "--rm", "-i"}
	args = append(args, cfg.ExtraArgs...)
	args = append(args, image)

	return NewStdio(StdioConfig{Command: runtime, Args: args}, cb)
}
