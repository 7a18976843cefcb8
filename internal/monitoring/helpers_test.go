package monitoring

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/domains"
	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

// syncBuffer lets zerolog write from several goroutines while a test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) count(substr string) int {
	return strings.Count(b.String(), substr)
}

func newTestLogger() (*zerolog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	logger := zerolog.New(buf).Level(zerolog.DebugLevel)
	return &logger, buf
}

// fakeAPI serves the system and containers domains.
type fakeAPI struct {
	domains.API

	mu             sync.Mutex
	system         *unraid.SystemInfo
	systemErr      error
	containers     []unraid.Container
	containersErr  error
	dockerSettings *unraid.DockerSettings
	onSystem       func()
	systemCalls    int
}

func (f *fakeAPI) GetDockerSettings(context.Context) (*unraid.DockerSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dockerSettings, nil
}

func (f *fakeAPI) GetSystemInfo(context.Context) (*unraid.SystemInfo, error) {
	f.mu.Lock()
	f.systemCalls++
	hook := f.onSystem
	sys, err := f.system, f.systemErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return sys, err
}

func (f *fakeAPI) GetContainers(context.Context) ([]unraid.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers, f.containersErr
}

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.systemCalls
}

func testRegistry(t *testing.T) *domains.Registry {
	t.Helper()
	r, err := domains.NewRegistry(
		domains.Record[unraid.SystemInfo](domains.System, "system", domains.API.GetSystemInfo, unraid.EventSystemUpdate).AsRequired(),
		domains.List[unraid.Container](domains.Containers, "docker", func(c unraid.Container) string { return c.ID },
			domains.API.GetContainers, unraid.EventContainerListUpdate),
	)
	require.NoError(t, err)
	return r
}

// gatedRegistry adds a Docker settings domain that gates containers.
func gatedRegistry(t *testing.T) *domains.Registry {
	t.Helper()
	r, err := domains.NewRegistry(
		domains.Record[unraid.SystemInfo](domains.System, "system", domains.API.GetSystemInfo, unraid.EventSystemUpdate).AsRequired(),
		domains.Record[unraid.DockerSettings](domains.DockerSettings, "docker", domains.API.GetDockerSettings),
		domains.List[unraid.Container](domains.Containers, "docker", func(c unraid.Container) string { return c.ID },
			domains.API.GetContainers, unraid.EventContainerListUpdate).GatedBy(domains.DockerSettings),
	)
	require.NoError(t, err)
	return r
}

// closingAPI counts transport releases.
type closingAPI struct {
	*fakeAPI
	closed atomic.Int32
}

func (c *closingAPI) Close() { c.closed.Add(1) }

// fakeCollectors returns a scripted collector status.
type fakeCollectors struct {
	mu     sync.Mutex
	status *unraid.CollectorStatus
	err    error
}

func (f *fakeCollectors) CollectorStatus(context.Context) (*unraid.CollectorStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.err
}

func (f *fakeCollectors) set(status *unraid.CollectorStatus, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.err = status, err
}

func collectorStatus(enabled ...string) *unraid.CollectorStatus {
	status := &unraid.CollectorStatus{}
	for _, name := range []string{"system", "docker"} {
		on := false
		for _, e := range enabled {
			if e == name {
				on = true
			}
		}
		status.Collectors = append(status.Collectors, unraid.CollectorInfo{Name: name, Enabled: on})
	}
	return status
}

// scriptedSource replays events, then fails.
type scriptedSource struct {
	mu     sync.Mutex
	events []unraid.Event
	err    error
	closed int
	onNext func()
}

func (s *scriptedSource) Next(ctx context.Context) (unraid.Event, error) {
	s.mu.Lock()
	hook := s.onNext
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		s.mu.Unlock()
		return ev, nil
	}
	err := s.err
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err == nil {
		<-ctx.Done()
		return unraid.Event{}, ctx.Err()
	}
	return unraid.Event{}, err
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

var errStreamLost = errors.New("stream lost")

func newTestCoordinator(t *testing.T, api *fakeAPI, deps Deps, opts Options) (*Coordinator, *syncBuffer) {
	t.Helper()
	logger, buf := newTestLogger()
	if deps.Registry == nil {
		deps.Registry = testRegistry(t)
	}
	deps.API = api
	opts.Logger = logger
	if opts.Instance == "" {
		opts.Instance = "tower"
	}
	c, err := New(deps, opts)
	require.NoError(t, err)
	c.sleep = func(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil }
	c.rng = func() float64 { return 0.5 }
	return c, buf
}

func decodeEvent(t *testing.T, data string) unraid.Event {
	t.Helper()
	ev, err := unraid.DecodeEvent([]byte(`{"event":"update","data":` + data + `}`))
	require.NoError(t, err)
	return ev
}
