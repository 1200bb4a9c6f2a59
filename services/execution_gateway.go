// services/execution_gateway.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog/log"
)

// GatewayResult is the outcome of one command execution. Failures at any
// layer (daemon unreachable, container missing, timeout) are reported as a
// synthetic result with ExitCode -1 and the error text in Stderr, never as a
// Go error, so a flaky range can't crash a game.
type GatewayResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Failed reports whether the command did not complete cleanly.
func (r GatewayResult) Failed() bool {
	return r.ExitCode != 0
}

// ExecutionGateway dispatches shell commands into named range targets.
type ExecutionGateway interface {
	Execute(ctx context.Context, target, command string) GatewayResult
	VerifyTarget(ctx context.Context, target string) error
}

// DockerGateway executes commands via docker exec against running containers.
type DockerGateway struct {
	cli     *client.Client
	timeout time.Duration
}

func NewDockerGateway(commandTimeout time.Duration) (*DockerGateway, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if commandTimeout <= 0 {
		commandTimeout = 60 * time.Second
	}
	return &DockerGateway{cli: cli, timeout: commandTimeout}, nil
}

// VerifyTarget checks that the named container exists and is running.
func (g *DockerGateway) VerifyTarget(ctx context.Context, target string) error {
	info, err := g.cli.ContainerInspect(ctx, target)
	if err != nil {
		return fmt.Errorf("inspect target %s: %w", target, err)
	}
	if info.State == nil || !info.State.Running {
		return fmt.Errorf("target %s is not running", target)
	}
	return nil
}

func failedResult(err error) GatewayResult {
	return GatewayResult{ExitCode: -1, Stderr: err.Error()}
}

// Execute runs a command in the target container and waits for completion,
// bounded by the gateway timeout.
func (g *DockerGateway) Execute(ctx context.Context, target, command string) GatewayResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	execCfg := types.ExecConfig{
		Cmd:          []string{"sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := g.cli.ContainerExecCreate(ctx, target, execCfg)
	if err != nil {
		log.Warn().Err(err).Str("target", target).Msg("exec create failed")
		return failedResult(err)
	}

	attached, err := g.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		log.Warn().Err(err).Str("target", target).Msg("exec attach failed")
		return failedResult(err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attached.Reader)
		done <- copyErr
	}()

	select {
	case err = <-done:
		if err != nil {
			return failedResult(fmt.Errorf("read exec output: %w", err))
		}
	case <-ctx.Done():
		return failedResult(fmt.Errorf("command timed out after %s", g.timeout))
	}

	inspect, err := g.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return failedResult(fmt.Errorf("inspect exec: %w", err))
	}

	return GatewayResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
}
