package monitoring

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/domains"
	internalerrors "github.com/ruaan-deysel/ha-unraid-management-agent/internal/errors"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/snapshot"
	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

const (
	defaultPollInterval             = 30 * time.Second
	defaultCollectorRefreshInterval = 5 * time.Minute
	defaultFetchTimeout             = 10 * time.Second
	defaultConnectTimeout           = 10 * time.Second
	defaultMaxConcurrentFetches     = 4
	stopTimeout                     = 5 * time.Second
)

var errDomainDisabled = errors.New("domain collector disabled")

// EventSource is an open push stream.
type EventSource interface {
	Next(ctx context.Context) (unraid.Event, error)
	Close() error
}

// StreamOpener opens push streams.
type StreamOpener interface {
	Open(ctx context.Context) (EventSource, error)
}

// StreamOpenerFunc adapts a function to StreamOpener.
type StreamOpenerFunc func(ctx context.Context) (EventSource, error)

// Open calls f(ctx).
func (f StreamOpenerFunc) Open(ctx context.Context) (EventSource, error) { return f(ctx) }

// DialerOpener adapts an agent websocket dialer to StreamOpener.
func DialerOpener(d *unraid.StreamDialer) StreamOpener {
	return StreamOpenerFunc(func(ctx context.Context) (EventSource, error) {
		stream, err := d.Open(ctx)
		if err != nil {
			return nil, err
		}
		return stream, nil
	})
}

// ActionInvoker performs control actions against the agent.
type ActionInvoker interface {
	Invoke(ctx context.Context, action unraid.Action, target string) error
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Registry   *domains.Registry
	API        domains.API
	Collectors CollectorSource
	Stream     StreamOpener
	Actions    ActionInvoker
}

// Options tune the coordinator. Zero values fall back to defaults.
type Options struct {
	// Instance labels logs and errors, typically the agent host.
	Instance                 string
	PollInterval             time.Duration
	CollectorRefreshInterval time.Duration
	FetchTimeout             time.Duration
	ConnectTimeout           time.Duration
	MaxConcurrentFetches     int
	DisablePush              bool
	Backoff                  BackoffConfig
	Logger                   *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.CollectorRefreshInterval <= 0 {
		o.CollectorRefreshInterval = defaultCollectorRefreshInterval
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = defaultFetchTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.MaxConcurrentFetches <= 0 {
		o.MaxConcurrentFetches = defaultMaxConcurrentFetches
	}
	if o.Backoff == (BackoffConfig{}) {
		o.Backoff = DefaultBackoff()
	}
	return o
}

// Status is a point-in-time view of coordinator health.
type Status struct {
	Instance         string            `json:"instance"`
	Availability     AvailabilityState `json:"availability"`
	Connection       ConnectionState   `json:"connection"`
	PushEnabled      bool              `json:"push_enabled"`
	Session          string            `json:"session,omitempty"`
	LastPoll         time.Time         `json:"last_poll"`
	LastPollSuccess  bool              `json:"last_poll_success"`
	ReconnectAttempt int               `json:"reconnect_attempt"`
	Collectors       map[string]bool   `json:"collectors,omitempty"`
	Services         map[string]bool   `json:"services,omitempty"`
	Subscribers      int               `json:"subscribers"`
}

// Coordinator keeps a snapshot of one Unraid server in sync by polling the
// REST API and applying push events. Construct with New, then Start and Stop.
type Coordinator struct {
	deps     Deps
	opts     Options
	logger   zerolog.Logger
	store    *snapshot.Store
	fanout   *fanout
	filter   *collectorFilter
	tracker  *availabilityTracker
	metrics  *SyncMetrics
	refresh  chan struct{}
	registry *domains.Registry

	// writeMu serializes snapshot commits, connection state and availability.
	writeMu   sync.Mutex
	connState atomic.Int32

	statusMu         sync.RWMutex
	session          string
	lastPoll         time.Time
	lastPollSuccess  bool
	reconnectAttempt int

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopped     bool

	// Overridable in tests.
	stopTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) bool
	rng         func() float64
	now         func() time.Time
}

// New validates deps and builds a coordinator. Nothing runs until Start.
func New(deps Deps, opts Options) (*Coordinator, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("monitoring: domain registry is required")
	}
	if deps.API == nil {
		return nil, fmt.Errorf("monitoring: REST API is required")
	}
	opts = opts.withDefaults()
	if !opts.DisablePush && deps.Stream == nil {
		return nil, fmt.Errorf("monitoring: stream opener is required when push is enabled")
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "sync_coordinator").Str("instance", opts.Instance).Logger()

	c := &Coordinator{
		deps:     deps,
		opts:     opts,
		logger:   logger,
		store:    snapshot.NewStore(),
		fanout:   newFanout(),
		filter:   newCollectorFilter(deps.Collectors, deps.Registry, logger),
		tracker:  newAvailabilityTracker(logger),
		metrics:  getSyncMetrics(),
		refresh:  make(chan struct{}, 1),
		registry: deps.Registry,
		sleep:    sleepContext,
		rng:      rand.Float64,
		now:      time.Now,
	}
	c.stopTimeout = stopTimeout
	c.store.OnCommit(c.fanout.notify)
	c.metrics.SetConnectionState(Disconnected)
	c.metrics.SetAvailability(Unavailable)
	return c, nil
}

// Start launches the poll scheduler, the collector refresh loop and, unless
// disabled, the push connection manager. Calling Start twice is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.cancel != nil || c.stopped {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.logger.Info().
		Dur("poll_interval", c.opts.PollInterval).
		Bool("push", !c.opts.DisablePush).
		Msg("Starting Unraid state synchronization")

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.runPoller(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.runCollectorRefresh(runCtx)
	}()

	if !c.opts.DisablePush {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runStream(runCtx)
		}()
	}
}

// Stop cancels all loops, waits up to five seconds for them to exit and
// releases the transport and subscriptions. When the loops do not exit in
// time nothing is released. The coordinator cannot be restarted.
func (c *Coordinator) Stop() {
	c.lifecycleMu.Lock()
	if c.stopped {
		c.lifecycleMu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	c.setConnectionState(Stopped)

	select {
	case <-done:
	case <-time.After(c.stopTimeout):
		// Loops still hold the transport and subscriptions; leave them open.
		c.logger.Warn().Dur("timeout", c.stopTimeout).Msg("Timed out waiting for synchronization loops to stop, leaving transport open")
		return
	}

	if closer, ok := c.deps.API.(interface{ Close() }); ok {
		closer.Close()
	}
	c.fanout.closeAll()
	c.logger.Info().Msg("Unraid state synchronization stopped")
}

// Snapshot returns the store holding the latest state of every domain.
func (c *Coordinator) Snapshot() *snapshot.Store { return c.store }

// Registry returns the domain table.
func (c *Coordinator) Registry() *domains.Registry { return c.registry }

// Availability returns the derived health state.
func (c *Coordinator) Availability() AvailabilityState { return c.tracker.Current() }

// ConnectionState returns the push stream state.
func (c *Coordinator) ConnectionState() ConnectionState {
	return ConnectionState(c.connState.Load())
}

// Subscribe registers an observer for change notifications.
func (c *Coordinator) Subscribe() *Subscription { return c.fanout.subscribe() }

// Unsubscribe removes sub and closes its channel.
func (c *Coordinator) Unsubscribe(sub *Subscription) { c.fanout.unsubscribe(sub) }

// RequestRefresh asks for an out-of-cycle poll. Requests made while one is
// already pending are coalesced.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
		c.logger.Debug().Msg("Refresh already pending, coalescing request")
	}
}

// PollOnce queries collector enablement and runs a single poll cycle
// synchronously. It is meant for one-shot use without Start.
func (c *Coordinator) PollOnce(ctx context.Context) bool {
	if err := c.RefreshCollectors(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Collector query failed, polling every domain")
	}
	return c.pollOnce(ctx)
}

// RefreshCollectors re-queries collector enablement and clears domains that
// became disabled.
func (c *Coordinator) RefreshCollectors(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	next, err := c.filter.query(fctx)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, name := range c.filter.apply(next) {
		if c.store.Clear(name) {
			c.logger.Info().Str("domain", name).Msg("Collector disabled, cleared domain from snapshot")
		}
	}
	return nil
}

// Invoke performs a control action and, on success, requests a refresh.
// Failures are returned to the caller and do not affect coordinator state.
func (c *Coordinator) Invoke(ctx context.Context, action unraid.Action, target string) error {
	if c.deps.Actions == nil {
		return internalerrors.NewMonitorError(internalerrors.ErrorTypeValidation, "invoke", c.opts.Instance,
			fmt.Errorf("%w: control actions are not configured", internalerrors.ErrInvalidInput))
	}

	err := c.deps.Actions.Invoke(ctx, action, target)
	c.metrics.RecordAction(string(action), err)
	if err != nil {
		c.logger.Warn().Err(err).Str("action", string(action)).Str("target", target).Msg("Control action failed")
		return internalerrors.Classify("invoke "+string(action), c.opts.Instance, err)
	}

	c.logger.Info().Str("action", string(action)).Str("target", target).Msg("Control action succeeded")
	c.RequestRefresh()
	return nil
}

// Status reports coordinator health for diagnostics and the HTTP API.
func (c *Coordinator) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return Status{
		Instance:         c.opts.Instance,
		Availability:     c.Availability(),
		Connection:       c.ConnectionState(),
		PushEnabled:      !c.opts.DisablePush,
		Session:          c.session,
		LastPoll:         c.lastPoll,
		LastPollSuccess:  c.lastPollSuccess,
		ReconnectAttempt: c.reconnectAttempt,
		Collectors:       c.filter.Snapshot(),
		Services:         c.filter.Services(),
		Subscribers:      c.fanout.count(),
	}
}

// commit is the single merge path for poll and push results.
func (c *Coordinator) commit(d domains.Domain, m snapshot.Mutation, source snapshot.Source) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.filter.DomainEnabled(d) {
		return false, errDomainDisabled
	}
	changed, err := c.store.Commit(d.Name, m, source)
	if err != nil {
		return false, err
	}
	if changed {
		c.metrics.RecordCommit(d.Name, string(source), c.now())
	}
	if toggle, ok := m.Value.(unraid.ServiceToggle); ok {
		c.applyService(d.Name, toggle.ServiceEnabled())
	}
	return changed, nil
}

// applyService gates the domains that depend on service. Callers hold
// writeMu.
func (c *Coordinator) applyService(service string, enabled bool) {
	if !c.filter.setService(service, enabled) {
		return
	}
	if enabled {
		c.logger.Info().Str("service", service).Msg("Service enabled, resuming dependent domains")
		return
	}
	for _, name := range c.registry.GatedBy(service) {
		if c.store.Clear(name) {
			c.logger.Info().Str("service", service).Str("domain", name).Msg("Service disabled, cleared domain from snapshot")
		}
	}
}

func (c *Coordinator) setConnectionState(state ConnectionState) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if ConnectionState(c.connState.Load()) == Stopped {
		return
	}
	c.connState.Store(int32(state))
	c.metrics.SetConnectionState(state)
	// Shutdown is not an outage; availability keeps its last value.
	if state == Stopped {
		return
	}
	if avail, changed := c.tracker.OnConnectionState(state); changed {
		c.metrics.SetAvailability(avail)
		c.fanout.notify(TopicAvailability)
	}
}

func (c *Coordinator) recordPollResult(success bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.statusMu.Lock()
	c.lastPoll = c.now()
	c.lastPollSuccess = success
	c.statusMu.Unlock()

	c.metrics.RecordPollCycle(success)
	if avail, changed := c.tracker.OnPollResult(success); changed {
		c.metrics.SetAvailability(avail)
		c.fanout.notify(TopicAvailability)
	}
}

func (c *Coordinator) runCollectorRefresh(ctx context.Context) {
	ticker := time.NewTicker(c.opts.CollectorRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RefreshCollectors(ctx); err != nil {
				c.logger.Debug().Err(err).Msg("Collector refresh failed")
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
