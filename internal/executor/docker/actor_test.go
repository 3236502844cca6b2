package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/coderunner/internal/apperror"
	"github.com/sakif/coderunner/internal/executor"
	"github.com/sakif/coderunner/internal/metrics"
)

func newTestActor(t *testing.T, d *fakeDaemon, cfg Config) (*Actor, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	a := NewActor(d, cfg, testLogger(), m)
	a.Start()
	t.Cleanup(func() { a.Close() })
	return a, m
}

func TestActor_Execute(t *testing.T) {
	d := newFakeDaemon()
	d.stdout = []string{"hi\n"}
	a, m := newTestActor(t, d, testConfig())

	res, err := a.Execute(context.Background(), pythonRequest("print('hi')"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.ExitCode)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Zero(t, d.remaining())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("python", metrics.OutcomeOK)))
}

func TestActor_RelaysControllerErrors(t *testing.T) {
	d := newFakeDaemon()
	d.createErr = errors.New("daemon down")
	a, m := newTestActor(t, d, testConfig())

	res, err := a.Execute(context.Background(), pythonRequest("print(1)"))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperror.ErrDaemon)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("python", metrics.OutcomeError)))
}

func TestActor_RecordsTimeoutOutcome(t *testing.T) {
	d := newFakeDaemon()
	d.runFor = time.Hour
	a, m := newTestActor(t, d, testConfig())

	req := pythonRequest("while True: pass")
	req.Timeout = 20 * time.Millisecond
	res, err := a.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("python", metrics.OutcomeTimeout)))
}

func TestActor_SingleFlightAndFIFO(t *testing.T) {
	d := newFakeDaemon()
	d.runFor = 5 * time.Millisecond
	d.gate = make(chan struct{})
	cfg := testConfig()
	cfg.QueueSize = 16
	cfg.DefaultTimeout = 10 * time.Second
	a, _ := newTestActor(t, d, cfg)

	const n = 6
	results := make([]*executor.ExecutionResult, n)
	var wg sync.WaitGroup

	// The first request occupies the actor behind the gate; the others are
	// enqueued one at a time so their submission order is known.
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := a.Execute(context.Background(), pythonRequest(fmt.Sprintf("print(%d)", i)))
			assert.NoError(t, err)
			results[i] = res
		}(i)

		if i == 0 {
			waitForCall(t, d, "wait", 1)
			continue
		}
		want := i
		require.Eventually(t, func() bool { return len(a.commands) == want }, time.Second, time.Millisecond)
	}

	close(d.gate)
	wg.Wait()

	assert.Equal(t, 1, d.peak(), "at most one container may exist at a time")
	assert.Zero(t, d.remaining())

	order := d.creationOrder()
	require.Len(t, order, n)
	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, ContainerNamePrefix+res.ExecutionID, order[i], "request %d served out of order", i)
	}
}

func TestActor_BackpressureBlocksSubmitter(t *testing.T) {
	d := newFakeDaemon()
	d.gate = make(chan struct{})
	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.DefaultTimeout = 10 * time.Second
	a, _ := newTestActor(t, d, cfg)

	// One in flight, one queued.
	go a.Execute(context.Background(), pythonRequest("print(1)"))
	waitForCall(t, d, "wait", 1)
	go a.Execute(context.Background(), pythonRequest("print(2)"))
	require.Eventually(t, func() bool { return len(a.commands) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Execute(ctx, pythonRequest("print(3)"))
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a full queue must block, not drop")

	close(d.gate)
}

func TestActor_AbandonedCallerStillCleansUp(t *testing.T) {
	d := newFakeDaemon()
	d.runFor = 50 * time.Millisecond
	a, _ := newTestActor(t, d, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.Execute(ctx, pythonRequest("import time; time.sleep(1)"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The next request is served only after the abandoned one finished.
	res, err := a.Execute(context.Background(), pythonRequest("print(1)"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.ExitCode)
	assert.Zero(t, d.remaining())
	assert.Len(t, d.creationOrder(), 2)
}

func TestActor_RecoversFromPanic(t *testing.T) {
	d := newFakeDaemon()
	d.panicOn = "create"
	a, _ := newTestActor(t, d, testConfig())

	res, err := a.Execute(context.Background(), pythonRequest("print(1)"))
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// The actor keeps serving.
	d.mu.Lock()
	d.panicOn = ""
	d.mu.Unlock()
	res, err = a.Execute(context.Background(), pythonRequest("print(1)"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.ExitCode)
}

func TestActor_SweepsStoppedLeftoversOnStart(t *testing.T) {
	d := newFakeDaemon()
	d.addLeftover("old-exited", "code_exec_1234", "exited", true)
	d.addLeftover("old-created", "code_exec_5678", "created", true)
	d.addLeftover("busy", "code_exec_9abc", "running", true)
	d.addLeftover("unlabelled", "code_exec_def0", "exited", false)
	d.addLeftover("other", "postgres", "exited", false)
	a, _ := newTestActor(t, d, testConfig())

	// Executing after Start guarantees the sweep has run.
	_, err := a.Execute(context.Background(), pythonRequest("print(1)"))
	require.NoError(t, err)

	assert.Equal(t, 3, d.remaining(), "running, unlabelled and foreign containers survive")
	assert.Equal(t, "list", d.callLog()[0])
}

func TestActor_SweepDisabled(t *testing.T) {
	d := newFakeDaemon()
	d.addLeftover("old-exited", "code_exec_1234", "exited", true)
	cfg := testConfig()
	cfg.SweepOrphans = false
	a, _ := newTestActor(t, d, cfg)

	_, err := a.Execute(context.Background(), pythonRequest("print(1)"))
	require.NoError(t, err)

	assert.Equal(t, 1, d.remaining())
	assert.Zero(t, d.countCalls("list"))
}

func TestActor_SecondActorLeavesRunningExecutionAlone(t *testing.T) {
	d := newFakeDaemon()
	d.runFor = 200 * time.Millisecond

	first, firstMetrics := newTestActor(t, d, testConfig())

	done := make(chan *executor.ExecutionResult, 1)
	go func() {
		res, err := first.Execute(context.Background(), pythonRequest("import time; time.sleep(0.2)"))
		assert.NoError(t, err)
		done <- res
	}()
	waitForCall(t, d, "wait", 1)

	// A second process on the same daemon starts and sweeps while the
	// first execution is still running.
	second := NewActor(d, testConfig(), testLogger(), nil)
	second.Start()
	waitForCall(t, d, "list", 2)
	waitForCall(t, d, "images", 2)

	assert.Equal(t, 1, d.remaining(), "the running container must survive the sweep")

	res := <-done
	require.NotNil(t, res)
	assert.Equal(t, int64(0), res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Zero(t, d.remaining())
	assert.Equal(t, 1, d.countCalls("remove"), "only the owner removes its container")
	assert.Equal(t, 0.0, testutil.ToFloat64(firstMetrics.HousekeepingFailures.WithLabelValues(metrics.StepRemove)))

	require.NoError(t, second.Close())
}

func TestActor_ContainersCarryOwnerLabel(t *testing.T) {
	d := newFakeDaemon()
	a, _ := newTestActor(t, d, testConfig())

	_, err := a.Execute(context.Background(), pythonRequest("print(1)"))
	require.NoError(t, err)

	labels := d.created().config.Labels
	assert.Equal(t, "true", labels[LabelManaged])
	assert.NotEmpty(t, labels[LabelOwner])
	assert.Equal(t, a.controller.owner, labels[LabelOwner])
}

func TestActor_WarnsAboutMissingImages(t *testing.T) {
	d := newFakeDaemon()
	d.images = []string{"python:3.9-slim", "node:18-alpine"}

	var logs bytes.Buffer
	a := NewActor(d, testConfig(), slog.New(slog.NewTextHandler(&logs, nil)), nil)
	a.Start()
	_, err := a.Execute(context.Background(), pythonRequest("print(1)"))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	out := logs.String()
	assert.Contains(t, out, "image=golang:1.19-alpine")
	assert.Contains(t, out, "image=kotlin:latest")
	assert.NotContains(t, out, "image=python:3.9-slim")
	assert.NotContains(t, out, "image=node:18-alpine")
}

func TestActor_ImageListFailureIsIgnored(t *testing.T) {
	d := newFakeDaemon()
	d.imagesErr = errors.New("permission denied")
	a, _ := newTestActor(t, d, testConfig())

	res, err := a.Execute(context.Background(), pythonRequest("print(1)"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.ExitCode)
}

func TestActor_SweepListFailureIsIgnored(t *testing.T) {
	d := newFakeDaemon()
	d.listErr = errors.New("permission denied")
	a, _ := newTestActor(t, d, testConfig())

	res, err := a.Execute(context.Background(), pythonRequest("print(1)"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.ExitCode)
}

func TestActor_Close(t *testing.T) {
	d := newFakeDaemon()
	a := NewActor(d, testConfig(), testLogger(), nil)
	a.Start()

	require.NoError(t, a.Close())
	assert.True(t, d.closed)

	_, err := a.Execute(context.Background(), pythonRequest("print(1)"))
	assert.ErrorIs(t, err, apperror.ErrUnavailable)

	assert.NoError(t, a.Close(), "Close is idempotent")
}

func TestActor_CloseFailsQueuedCommands(t *testing.T) {
	d := newFakeDaemon()
	d.gate = make(chan struct{})
	cfg := testConfig()
	cfg.QueueSize = 4
	cfg.DefaultTimeout = 10 * time.Second
	a := NewActor(d, cfg, testLogger(), nil)
	a.Start()

	inflight := make(chan error, 1)
	go func() {
		_, err := a.Execute(context.Background(), pythonRequest("print(1)"))
		inflight <- err
	}()
	waitForCall(t, d, "wait", 1)

	queued := make(chan error, 1)
	go func() {
		_, err := a.Execute(context.Background(), pythonRequest("print(2)"))
		queued <- err
	}()
	require.Eventually(t, func() bool { return len(a.commands) == 1 }, time.Second, time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- a.Close() }()
	require.Eventually(t, func() bool { return a.draining.Load() }, time.Second, time.Millisecond)
	close(d.gate)

	assert.NoError(t, <-inflight, "the in-flight execution completes")
	assert.ErrorIs(t, <-queued, apperror.ErrUnavailable)
	assert.NoError(t, <-closed)
	assert.Zero(t, d.remaining())
}

func waitForCall(t *testing.T, d *fakeDaemon, call string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return d.countCalls(call) >= n }, time.Second, time.Millisecond)
}

func TestHasExecutionName(t *testing.T) {
	assert.True(t, hasExecutionName([]string{"/code_exec_abc"}))
	assert.True(t, hasExecutionName([]string{"/other", "code_exec_abc"}))
	assert.False(t, hasExecutionName([]string{"/my_code_exec_abc"}))
	assert.False(t, hasExecutionName(nil))
}
