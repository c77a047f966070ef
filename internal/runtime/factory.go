package runtime

import (
	"fmt"

	"gtsvmkit/pkg/runtime"
)

// Factory creates the runtime named in configuration.
type Factory struct {
	Docker DockerOptions
}

func NewFactory(docker DockerOptions) *Factory {
	return &Factory{Docker: docker}
}

// Get returns the runtime for name: "local" or "docker".
func (f *Factory) Get(name string) (runtime.Runtime, error) {
	switch name {
	case "local", "":
		return NewLocalRuntime(), nil
	case "docker":
		dockerRuntime, err := NewDockerRuntime(f.Docker)
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker runtime: %w", err)
		}
		return dockerRuntime, nil
	default:
		return nil, fmt.Errorf("unsupported runtime: %s", name)
	}
}
