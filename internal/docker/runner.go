// Package docker runs the sandbox chain node and its helper scripts in
// containers through the Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

// LabelKey marks every container this tool creates.
const LabelKey = "riskarena"

const logTail = "200"

type RunOpts struct {
	Image   string
	Command []string
	// WorkDir is bind-mounted at /workspace and used as the working directory.
	WorkDir     string
	Env         map[string]string
	Timeout     time.Duration
	ExtraMounts []Mount
	HostNetwork bool
	CPULimit    float64
	MemoryLimit int64
	RunID       string
	Logger      hclog.Logger
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

type RunResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
	// Logs holds the tail of the container's combined output stream.
	Logs string
}

func newClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return cli, nil
}

func (o *RunOpts) logger() hclog.Logger {
	if o.Logger == nil {
		return hclog.NewNullLogger()
	}
	return o.Logger
}

func (o *RunOpts) configs() (*container.Config, *container.HostConfig) {
	envSlice := make([]string, 0, len(o.Env))
	for k, v := range o.Env {
		envSlice = append(envSlice, k+"="+v)
	}

	mounts := []mount.Mount{{
		Type:   mount.TypeBind,
		Source: o.WorkDir,
		Target: "/workspace",
	}}
	for _, m := range o.ExtraMounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: mounts,
		Init:   &initTrue,
	}
	if o.HostNetwork {
		hostCfg.NetworkMode = "host"
	} else {
		hostCfg.ExtraHosts = []string{"host.docker.internal:host-gateway"}
	}
	if o.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(o.CPULimit * 1e9)
	}
	if o.MemoryLimit > 0 {
		hostCfg.Memory = o.MemoryLimit
	}

	labels := map[string]string{LabelKey: "true"}
	if o.RunID != "" {
		labels[LabelKey+".run"] = o.RunID
	}
	return &container.Config{
		Image:      o.Image,
		Cmd:        o.Command,
		Env:        envSlice,
		WorkingDir: "/workspace",
		Labels:     labels,
	}, hostCfg
}

// RunContainer runs a container to completion. Hitting opts.Timeout kills the
// container and reports exit code 124 with TimedOut set; it is not an error.
func RunContainer(ctx context.Context, opts *RunOpts) (*RunResult, error) {
	cli, err := newClient()
	if err != nil {
		return nil, err
	}
	defer cli.Close()
	log := opts.logger()

	containerCfg, hostCfg := opts.configs()
	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	waitResult := cli.ContainerWait(timeoutCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
				logs := containerLogs(cli, containerID)
				log.Debug("container timed out", "image", opts.Image, "elapsed", time.Since(start), "logs", logs)
				return &RunResult{
					ExitCode: 124,
					TimedOut: true,
					Duration: time.Since(start),
					Logs:     logs,
				}, nil
			}
		case status := <-waitResult.Result:
			logs := containerLogs(cli, containerID)
			log.Debug("container exited", "image", opts.Image, "exit_code", status.StatusCode, "elapsed", time.Since(start))
			return &RunResult{
				ExitCode: int(status.StatusCode),
				Duration: time.Since(start),
				Logs:     logs,
			}, nil
		}
	}
}

func containerLogs(cli *client.Client, id string) string {
	logReader, _ := cli.ContainerLogs(context.Background(), id, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       logTail,
	})
	if logReader == nil {
		return ""
	}
	defer logReader.Close()
	data, _ := io.ReadAll(logReader)
	return string(data)
}

// Container is a long-running container started with StartContainer.
type Container struct {
	ID  string
	cli *client.Client
	log hclog.Logger
}

// StartContainer creates and starts a container without waiting for it. The
// caller owns the returned Container and must Stop it.
func StartContainer(ctx context.Context, opts *RunOpts) (*Container, error) {
	cli, err := newClient()
	if err != nil {
		return nil, err
	}

	containerCfg, hostCfg := opts.configs()
	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("creating container: %w", err)
	}
	c := &Container{ID: createResp.ID, cli: cli, log: opts.logger()}
	if _, err := cli.ContainerStart(ctx, c.ID, client.ContainerStartOptions{}); err != nil {
		c.Stop()
		return nil, fmt.Errorf("starting container: %w", err)
	}
	c.log.Debug("container started", "image", opts.Image, "id", c.ID)
	return c, nil
}

// Logs returns the tail of the container output.
func (c *Container) Logs() string {
	if c == nil || c.cli == nil {
		return ""
	}
	return containerLogs(c.cli, c.ID)
}

// Stop force-removes the container. It is safe to call more than once.
func (c *Container) Stop() error {
	if c == nil || c.cli == nil {
		return nil
	}
	cli := c.cli
	c.cli = nil
	defer cli.Close()

	if _, err := cli.ContainerRemove(context.Background(), c.ID, client.ContainerRemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("removing container %s: %w", c.ID, err)
	}
	c.log.Debug("container removed", "id", c.ID)
	return nil
}
