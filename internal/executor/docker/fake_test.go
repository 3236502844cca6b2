package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/sakif/coderunner/internal/executor"
)

// fakeContainer is one container known to fakeDaemon.
type fakeContainer struct {
	id     string
	name   string
	config *container.Config
	host   *container.HostConfig
	labels map[string]string
	state  string // created, running or exited
	killed chan struct{}
	signal string
}

// fakeDaemon is an in-memory Daemon. Each container "runs" for runFor and
// then exits with exitCode, unless it is killed first.
type fakeDaemon struct {
	mu sync.Mutex

	containers map[string]*fakeContainer
	calls      []string
	createdSeq []string // container names in creation order
	live       int
	maxLive    int
	nextID     int
	closed     bool

	createErr error
	startErr  error
	waitErr   error
	killErr   error
	logsErr   error
	removeErr error
	listErr   error
	imagesErr error
	waitClose bool // close the status channel without a value
	panicOn   string

	exitCode int64
	runFor   time.Duration
	gate     chan struct{} // when set, wait blocks until closed
	stdout   []string
	stderr   []string
	console  []string
	rawLogs  []byte // overrides stdout/stderr/console when set
	images   []string

	lastCreated *fakeContainer
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		containers: make(map[string]*fakeContainer),
		images:     executor.Images(),
	}
}

var _ Daemon = (*fakeDaemon)(nil)

func (f *fakeDaemon) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeDaemon) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create")
	if f.panicOn == "create" {
		panic("fake daemon exploded")
	}
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	for _, c := range f.containers {
		if c.name == name {
			return container.CreateResponse{}, fmt.Errorf("conflict: name %s in use", name)
		}
	}
	f.nextID++
	id := fmt.Sprintf("cid-%d", f.nextID)
	f.containers[id] = &fakeContainer{
		id:     id,
		name:   name,
		config: cfg,
		host:   host,
		labels: cfg.Labels,
		state:  "created",
		killed: make(chan struct{}),
	}
	f.lastCreated = f.containers[id]
	f.createdSeq = append(f.createdSeq, name)
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDaemon) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start")
	if f.startErr != nil {
		return f.startErr
	}
	c, ok := f.containers[id]
	if !ok {
		return errors.New("no such container")
	}
	c.state = "running"
	return nil
}

func (f *fakeDaemon) ContainerWait(ctx context.Context, id string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	f.mu.Lock()
	f.record("wait")
	c := f.containers[id]
	waitErr, waitClose, exitCode, runFor, gate := f.waitErr, f.waitClose, f.exitCode, f.runFor, f.gate
	f.mu.Unlock()

	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)

	switch {
	case waitErr != nil:
		errCh <- waitErr
		return statusCh, errCh
	case waitClose:
		close(statusCh)
		return statusCh, errCh
	}

	go func() {
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		select {
		case <-time.After(runFor):
			f.exit(c)
			statusCh <- container.WaitResponse{StatusCode: exitCode}
		case <-c.killed:
			statusCh <- container.WaitResponse{StatusCode: 130}
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()
	return statusCh, errCh
}

func (f *fakeDaemon) ContainerKill(_ context.Context, id, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("kill")
	if f.killErr != nil {
		return f.killErr
	}
	c, ok := f.containers[id]
	if !ok {
		return errors.New("no such container")
	}
	c.signal = signal
	c.state = "exited"
	close(c.killed)
	return nil
}

func (f *fakeDaemon) ContainerLogs(_ context.Context, id string, opts container.LogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("logs")
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	if f.rawLogs != nil {
		return io.NopCloser(bytes.NewReader(f.rawLogs)), nil
	}

	var buf bytes.Buffer
	for _, s := range f.console {
		stdcopy.NewStdWriter(&buf, stdcopy.Stdin).Write([]byte(s))
	}
	if opts.ShowStdout {
		for _, s := range f.stdout {
			stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(s))
		}
	}
	if opts.ShowStderr {
		for _, s := range f.stderr {
			stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(s))
		}
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDaemon) ContainerRemove(_ context.Context, id string, opts container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove")
	if !opts.Force || !opts.RemoveVolumes {
		return errors.New("fake daemon expects forced removal with volumes")
	}
	if f.removeErr != nil {
		return f.removeErr
	}
	if _, ok := f.containers[id]; !ok {
		return errors.New("no such container")
	}
	delete(f.containers, id)
	f.live--
	return nil
}

func (f *fakeDaemon) exit(c *fakeContainer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.state = "exited"
}

// ContainerList honours the name, label and status filters the way the
// daemon does: values of one key are alternatives, keys must all match.
func (f *fakeDaemon) ContainerList(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []container.Summary
	for _, c := range f.containers {
		if !f.matches(c, opts) {
			continue
		}
		out = append(out, container.Summary{
			ID:     c.id,
			Names:  []string{"/" + c.name},
			Labels: c.labels,
			State:  c.state,
		})
	}
	return out, nil
}

func (f *fakeDaemon) matches(c *fakeContainer, opts container.ListOptions) bool {
	for _, name := range opts.Filters.Get("name") {
		if !strings.Contains(c.name, name) {
			return false
		}
	}
	for _, label := range opts.Filters.Get("label") {
		k, v, _ := strings.Cut(label, "=")
		if c.labels[k] != v {
			return false
		}
	}
	if statuses := opts.Filters.Get("status"); len(statuses) > 0 && !slices.Contains(statuses, c.state) {
		return false
	}
	return true
}

func (f *fakeDaemon) ImageList(_ context.Context, opts image.ListOptions) ([]image.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("images")
	if f.imagesErr != nil {
		return nil, f.imagesErr
	}
	refs := opts.Filters.Get("reference")
	var out []image.Summary
	for _, img := range f.images {
		if len(refs) == 0 || slices.Contains(refs, img) {
			out = append(out, image.Summary{ID: "sha256:" + img, RepoTags: []string{img}})
		}
	}
	return out, nil
}

func (f *fakeDaemon) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// addLeftover registers a container that another process created. managed
// controls whether it carries the execution labels.
func (f *fakeDaemon) addLeftover(id, name, state string, managed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeContainer{id: id, name: name, state: state, killed: make(chan struct{})}
	if managed {
		c.labels = map[string]string{LabelManaged: "true", LabelOwner: "previous"}
	}
	f.containers[id] = c
	f.live++
}

func (f *fakeDaemon) countCalls(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeDaemon) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDaemon) remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

func (f *fakeDaemon) created() *fakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCreated
}

func (f *fakeDaemon) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive
}

func (f *fakeDaemon) creationOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.createdSeq...)
}
