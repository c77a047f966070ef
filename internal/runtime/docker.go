package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"gtsvmkit/pkg/runtime"
)

// DefaultImage is a CUDA base image the gtsvm toolchain is installed into.
const DefaultImage = "nvidia/cuda:12.4.1-runtime-ubuntu22.04"

// dockerAPI is the subset of the Docker client used to run solver commands.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerOptions configures DockerRuntime.
type DockerOptions struct {
	Image string
	// GPU requests every GPU on the host through the NVIDIA container runtime.
	GPU bool
	// Pull fetches the image before the first command.
	Pull bool
	// User is passed as the container user so files written into mounted
	// directories stay removable by the host user. Empty means uid:gid of
	// this process.
	User string
}

// DockerRuntime runs each solver command in a fresh container.
type DockerRuntime struct {
	client dockerAPI
	opts   DockerOptions
	pulled bool
}

// NewDockerRuntime creates a DockerRuntime using client.FromEnv and checks the
// daemon is reachable.
func NewDockerRuntime(opts DockerOptions) (*DockerRuntime, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if _, err := dockerClient.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect to Docker daemon: %w", err)
	}

	return newDockerRuntime(dockerClient, opts), nil
}

func newDockerRuntime(api dockerAPI, opts DockerOptions) *DockerRuntime {
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.User == "" && os.Getuid() >= 0 {
		opts.User = fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
	}
	return &DockerRuntime{client: api, opts: opts}
}

func (d *DockerRuntime) Name() string {
	return "docker"
}

func (d *DockerRuntime) pullImage(ctx context.Context) error {
	if !d.opts.Pull || d.pulled {
		return nil
	}
	slog.Info("Pulling Docker image", "image", d.opts.Image)

	reader, err := d.client.ImagePull(ctx, d.opts.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", d.opts.Image, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to stream image pull output: %w", err)
	}

	d.pulled = true
	return nil
}

// Run creates a container for the command, waits for it to exit and returns
// its exit status with stdout and stderr demultiplexed.
func (d *DockerRuntime) Run(ctx context.Context, opts runtime.RunOptions) (*runtime.Result, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if err := d.pullImage(ctx); err != nil {
		return nil, err
	}

	var mounts []mount.Mount
	for _, dir := range opts.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: dir,
			Target: dir,
		})
	}

	var envVars []string
	for key, value := range opts.EnvVars {
		envVars = append(envVars, key+"="+value)
	}

	containerConfig := &container.Config{
		Image:      d.opts.Image,
		Cmd:        opts.Command,
		Env:        envVars,
		WorkingDir: opts.WorkingDirectory,
		User:       d.opts.User,
	}

	hostConfig := &container.HostConfig{Mounts: mounts}
	if d.opts.GPU {
		hostConfig.Resources.DeviceRequests = []container.DeviceRequest{{
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}

	slog.Debug("Running command", "runtime", d.Name(), "image", d.opts.Image, "command", opts.Command)

	start := time.Now()
	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer d.remove(resp.ID)

	waitCh, errCh := d.client.ContainerWait(ctx, resp.ID, container.WaitConditionNextExit)

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	var exitCode int
	select {
	case status := <-waitCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container wait failed: %s", status.Error.Message)
		}
		exitCode = int(status.StatusCode)
	case err := <-errCh:
		return nil, fmt.Errorf("container wait failed: %w", err)
	}

	logs, err := d.client.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, fmt.Errorf("failed to read container output: %w", err)
	}

	return &runtime.Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}, nil
}

// remove deletes the container even when the caller's context is done.
func (d *DockerRuntime) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		slog.Error("Failed to remove container", "containerID", containerID, "error", err)
	}
}
