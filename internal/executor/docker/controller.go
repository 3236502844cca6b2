package docker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sakif/coderunner/internal/apperror"
	"github.com/sakif/coderunner/internal/executor"
	"github.com/sakif/coderunner/internal/metrics"
)

const (
	tracerName = "github.com/sakif/coderunner/internal/executor/docker"

	// killSignal is sent to containers that outlive their timeout.
	killSignal = "SIGINT"

	housekeepingTimeout = 30 * time.Second
)

var errWaitStreamEnded = errors.New("container wait stream ended unexpectedly")

// Controller runs exactly one container per request and always removes it.
type Controller struct {
	daemon  Daemon
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	newID   func() string
	owner   string
}

// NewController creates a Controller. m may be nil.
func NewController(daemon Daemon, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		daemon:  daemon,
		config:  cfg,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
		newID:   uuid.NewString,
		owner:   uuid.NewString(),
	}
}

// Run executes req in a fresh container.
//
// Errors are returned only when no container output exists: invalid input,
// or a create/start failure. Wait failures and timeouts are folded into the
// result. Once a container was created it is removed before Run returns.
func (c *Controller) Run(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	if req.Code == "" {
		return nil, apperror.ValidationFailed("code", "code is empty")
	}
	profile, err := executor.Resolve(req.Language, req.Code)
	if err != nil {
		return nil, err
	}

	executionID := c.newID()
	name := ContainerNamePrefix + executionID
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.config.DefaultTimeout
	}

	ctx, span := c.tracer.Start(ctx, "container.run", trace.WithAttributes(
		attribute.String("execution.id", executionID),
		attribute.String("language", req.Language.String()),
		attribute.String("image", profile.Image),
	))
	defer span.End()

	logger := c.logger.With(
		slog.String("execution_id", executionID),
		slog.String("language", req.Language.String()),
	)

	created, err := c.daemon.ContainerCreate(ctx,
		&container.Config{
			Image:        profile.Image,
			Cmd:          profile.Command,
			Tty:          false,
			AttachStdout: true,
			AttachStderr: true,
			Labels: map[string]string{
				LabelManaged: "true",
				LabelOwner:   c.owner,
			},
		},
		c.hostConfig(),
		nil, nil, name,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		logger.Error("failed to create container", slog.String("error", err.Error()))
		return nil, apperror.Daemon("creating container", err)
	}
	containerID := created.ID
	span.AddEvent("container.created", trace.WithAttributes(attribute.String("container.id", containerID)))

	if err := c.daemon.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		logger.Error("failed to start container", slog.String("error", err.Error()))
		c.remove(containerID, logger)
		return nil, apperror.Daemon("starting container", err)
	}
	span.AddEvent("container.started")

	start := time.Now()
	exitCode, timedOut := c.wait(ctx, containerID, timeout, logger)
	duration := time.Since(start).Seconds()
	span.AddEvent("container.settled", trace.WithAttributes(
		attribute.Int64("exit_code", exitCode),
		attribute.Bool("timed_out", timedOut),
	))

	logsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), housekeepingTimeout)
	stdout, stderr, err := collectLogs(logsCtx, c.daemon, containerID, logger)
	cancel()
	if err != nil {
		c.metrics.RecordHousekeepingFailure(metrics.StepLogs)
	}

	result := &executor.ExecutionResult{
		ExecutionID: executionID,
		Stdout:      c.truncate(stdout),
		Stderr:      c.truncate(stderr),
		ExitCode:    exitCode,
		Duration:    duration,
		TimedOut:    timedOut,
	}

	c.remove(containerID, logger)

	logger.Info("execution finished",
		slog.Int64("exit_code", exitCode),
		slog.Bool("timed_out", timedOut),
		slog.Float64("duration", duration),
	)

	return result, nil
}

func (c *Controller) hostConfig() *container.HostConfig {
	return &container.HostConfig{
		NetworkMode: container.NetworkMode(c.config.Network),
		Resources: container.Resources{
			Memory:     c.config.MemoryLimit,
			MemorySwap: c.config.MemoryLimit,
			CPUShares:  c.config.CPUShares,
		},
		AutoRemove: false,
	}
}

// wait races the container reaching a non-running state against timeout.
func (c *Controller) wait(ctx context.Context, containerID string, timeout time.Duration, logger *slog.Logger) (exitCode int64, timedOut bool) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	statusCh, errCh := c.daemon.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case status, ok := <-statusCh:
		if !ok {
			logger.Error("error waiting for container", slog.String("error", errWaitStreamEnded.Error()))
			return -1, false
		}
		if status.Error != nil && status.Error.Message != "" {
			logger.Error("error waiting for container", slog.String("error", status.Error.Message))
			return -1, false
		}
		return status.StatusCode, false

	case err := <-errCh:
		if err == nil {
			err = errWaitStreamEnded
		}
		logger.Error("error waiting for container", slog.String("error", err.Error()))
		return -1, false

	case <-timer.C:
		logger.Warn("container execution timeout, killing container",
			slog.String("container", containerID),
			slog.Duration("timeout", timeout),
		)
		killCtx, killCancel := context.WithTimeout(context.WithoutCancel(ctx), housekeepingTimeout)
		defer killCancel()
		if err := c.daemon.ContainerKill(killCtx, containerID, killSignal); err != nil {
			c.metrics.RecordHousekeepingFailure(metrics.StepKill)
			logger.Debug("failed to signal container", slog.String("error", err.Error()))
		}
		return -1, true
	}
}

// remove force-removes the container and its anonymous volumes. Failures
// are logged and counted, never returned.
func (c *Controller) remove(containerID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), housekeepingTimeout)
	defer cancel()

	err := c.daemon.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		c.metrics.RecordHousekeepingFailure(metrics.StepRemove)
		logger.Warn("failed to remove container",
			slog.String("container", containerID),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("container removed", slog.String("container", containerID))
}

func (c *Controller) truncate(s string) string {
	out := executor.Truncate(s, c.config.MaxOutputSize)
	if out != s {
		c.metrics.RecordTruncation()
	}
	return out
}
