package docker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"

	"github.com/sakif/coderunner/internal/apperror"
	"github.com/sakif/coderunner/internal/executor"
	"github.com/sakif/coderunner/internal/metrics"
)

var _ executor.Executor = (*Actor)(nil)

// command crosses the actor boundary. reply has capacity one and receives
// exactly one value.
type command struct {
	req   executor.ExecutionRequest
	reply chan reply
}

type reply struct {
	result *executor.ExecutionResult
	err    error
}

// Actor owns the daemon client and serializes every execution through a
// single goroutine. Requests are served in arrival order; when the queue is
// full, Execute blocks the caller.
type Actor struct {
	daemon     Daemon
	controller *Controller
	logger     *slog.Logger
	metrics    *metrics.Metrics
	sweep      bool

	commands  chan command
	mu        sync.RWMutex // guards sends on commands against Close
	closed    bool
	draining  atomic.Bool
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New connects to the daemon and starts an Actor that owns the connection.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Actor, error) {
	cli, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	a := NewActor(cli, cfg, logger, m)
	a.Start()
	return a, nil
}

// NewActor wraps an existing daemon connection. The Actor takes ownership of
// daemon and closes it in Close.
func NewActor(daemon Daemon, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Actor {
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	return &Actor{
		daemon:     daemon,
		controller: NewController(daemon, cfg, logger, m),
		logger:     logger,
		metrics:    m,
		sweep:      cfg.SweepOrphans,
		commands:   make(chan command, size),
	}
}

// Start launches the consumer goroutine. Before serving the first command it
// sweeps stopped leftovers of earlier processes (when SweepOrphans is set)
// and warns about language images missing from the daemon.
func (a *Actor) Start() {
	a.startOnce.Do(func() {
		a.logger.Info("starting execution actor", slog.Int("queueSize", cap(a.commands)))
		a.wg.Add(1)
		go a.loop()
	})
}

// Execute submits req and waits for its result.
//
// ctx bounds only how long the caller waits. A command that made it into the
// queue still runs to completion and its container is still removed.
func (a *Actor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	cmd := command{req: req, reply: make(chan reply, 1)}

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil, apperror.Unavailable("executor is shutting down")
	}
	select {
	case a.commands <- cmd:
		a.metrics.SetQueueDepth(len(a.commands))
	case <-ctx.Done():
		a.mu.RUnlock()
		return nil, fmt.Errorf("submitting execution: %w", ctx.Err())
	}
	a.mu.RUnlock()

	select {
	case r := <-cmd.reply:
		return r.result, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for execution: %w", ctx.Err())
	}
}

// Close stops intake, lets the in-flight execution finish, fails anything
// still queued and closes the daemon connection.
func (a *Actor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down execution actor")
		a.draining.Store(true)

		a.mu.Lock()
		a.closed = true
		close(a.commands)
		a.mu.Unlock()

		a.Start() // the loop must run to drain the queue
		a.wg.Wait()
		err = a.daemon.Close()
	})
	return err
}

func (a *Actor) loop() {
	defer a.wg.Done()

	if !a.draining.Load() {
		if a.sweep {
			a.sweepOrphans()
		}
		a.checkImages()
	}

	for cmd := range a.commands {
		a.metrics.SetQueueDepth(len(a.commands))

		if a.draining.Load() {
			cmd.reply <- reply{err: apperror.Unavailable("executor is shutting down")}
			continue
		}

		cmd.reply <- a.handle(cmd.req)
	}
}

// handle runs one command. A panic inside the controller is turned into an
// error reply so the caller is never left waiting.
func (a *Actor) handle(req executor.ExecutionRequest) (r reply) {
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("execution panicked", slog.Any("panic", p))
			a.metrics.RecordExecution(req.Language.String(), metrics.OutcomeError, 0)
			r = reply{err: fmt.Errorf("execution panicked: %v", p)}
		}
	}()

	res, err := a.controller.Run(context.Background(), req)
	if err != nil {
		a.metrics.RecordExecution(req.Language.String(), metrics.OutcomeError, 0)
		return reply{err: err}
	}

	a.metrics.RecordExecution(req.Language.String(), outcome(res), res.Duration)
	return reply{result: res}
}

func outcome(res *executor.ExecutionResult) string {
	switch {
	case res.TimedOut:
		return metrics.OutcomeTimeout
	case res.ExitCode != 0:
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeOK
	}
}

// sweepOrphans force-removes containers left behind by a previous process.
//
// Only containers that carry LabelManaged and are no longer running are
// removed. A running container may belong to another live process sharing
// the daemon (a second replica or a one-shot CLI run), and that process owns
// it until its own remove step.
func (a *Actor) sweepOrphans() {
	ctx, cancel := context.WithTimeout(context.Background(), housekeepingTimeout)
	defer cancel()

	leftovers, err := a.daemon.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("name", ContainerNamePrefix),
			filters.Arg("label", LabelManaged+"=true"),
			filters.Arg("status", "created"),
			filters.Arg("status", "exited"),
			filters.Arg("status", "dead"),
		),
	})
	if err != nil {
		a.logger.Warn("failed to list leftover containers", slog.String("error", err.Error()))
		return
	}

	for _, c := range leftovers {
		if !hasExecutionName(c.Names) || c.State == container.StateRunning {
			continue
		}
		a.logger.Warn("removing leftover execution container",
			slog.String("container", c.ID),
			slog.String("owner", c.Labels[LabelOwner]),
		)
		a.controller.remove(c.ID, a.logger)
	}
}

// checkImages warns about language images the daemon does not have. The
// daemon does not pull on create, so requests for those languages fail.
func (a *Actor) checkImages() {
	ctx, cancel := context.WithTimeout(context.Background(), housekeepingTimeout)
	defer cancel()

	wanted := executor.Images()
	args := filters.NewArgs()
	for _, ref := range wanted {
		args.Add("reference", ref)
	}

	images, err := a.daemon.ImageList(ctx, image.ListOptions{Filters: args})
	if err != nil {
		a.logger.Warn("failed to list images", slog.String("error", err.Error()))
		return
	}

	present := make(map[string]bool)
	for _, img := range images {
		for _, tag := range img.RepoTags {
			present[tag] = true
		}
	}

	for _, ref := range wanted {
		if !present[ref] {
			a.logger.Warn("language image not present on daemon", slog.String("image", ref))
		}
	}
}

// hasExecutionName reports whether one of the daemon's names (which carry a
// leading slash) belongs to this service.
func hasExecutionName(names []string) bool {
	for _, n := range names {
		if strings.HasPrefix(strings.TrimPrefix(n, "/"), ContainerNamePrefix) {
			return true
		}
	}
	return false
}
