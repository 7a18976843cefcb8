package monitoring

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/domains"
	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

// collectorFilter tracks which agent collectors are enabled.
//
// Until the first successful query every collector counts as enabled. After
// that, collectors missing from the agent's list are disabled, except those
// backing a required domain. A domain gated by a service settings domain is
// also disabled while that service reports itself off.
type collectorFilter struct {
	source   CollectorSource
	registry *domains.Registry
	required map[string]bool
	logger   zerolog.Logger

	mu         sync.RWMutex
	enablement map[string]bool
	services   map[string]bool
	failing    bool
}

func newCollectorFilter(source CollectorSource, registry *domains.Registry, logger zerolog.Logger) *collectorFilter {
	return &collectorFilter{
		source:   source,
		registry: registry,
		required: registry.RequiredCollectors(),
		logger:   logger,
	}
}

// query asks the agent for collector status. It fails soft: on error the
// previous enablement is returned unchanged and the failure is logged once.
func (f *collectorFilter) query(ctx context.Context) (map[string]bool, error) {
	if f.source == nil {
		return f.Snapshot(), nil
	}

	status, err := f.source.CollectorStatus(ctx)
	if err != nil || status == nil {
		f.mu.Lock()
		first := !f.failing
		f.failing = true
		f.mu.Unlock()
		if first && ctx.Err() == nil {
			f.logger.Warn().Err(err).Msg("Failed to query collector status, keeping previous enablement")
		}
		if err == nil {
			err = errEmptyCollectorStatus
		}
		return f.Snapshot(), err
	}

	f.mu.Lock()
	recovered := f.failing
	f.failing = false
	f.mu.Unlock()
	if recovered {
		f.logger.Info().Msg("Collector status query recovered")
	}

	next := status.Enablement()
	for name := range f.required {
		next[name] = true
	}
	return next, nil
}

// apply stores next and returns the domains that were enabled before and
// are disabled now.
func (f *collectorFilter) apply(next map[string]bool) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var newlyDisabled []string
	for _, d := range f.registry.All() {
		if d.Required {
			continue
		}
		was := f.enabledLocked(d.Collector)
		now := next[d.Collector]
		if was && !now {
			newlyDisabled = append(newlyDisabled, d.Name)
		}
	}
	f.enablement = next
	sort.Strings(newlyDisabled)
	return newlyDisabled
}

// DomainEnabled reports whether d may be polled and accept events.
func (f *collectorFilter) DomainEnabled(d domains.Domain) bool {
	if d.Required {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if d.Service != "" {
		if on, known := f.services[d.Service]; known && !on {
			return false
		}
	}
	return f.enabledLocked(d.Collector)
}

// setService records whether a service settings domain reports its service
// running. It returns true when the effective state flipped; an unknown
// service already counts as running.
func (f *collectorFilter) setService(service string, enabled bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was, known := f.services[service]
	if !known {
		was = true
	}
	if f.services == nil {
		f.services = make(map[string]bool)
	}
	f.services[service] = enabled
	return was != enabled
}

// Services returns a copy of the service states seen so far.
func (f *collectorFilter) Services() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.services) == 0 {
		return nil
	}
	out := make(map[string]bool, len(f.services))
	for k, v := range f.services {
		out[k] = v
	}
	return out
}

func (f *collectorFilter) enabledLocked(collector string) bool {
	if f.enablement == nil {
		return true
	}
	if f.required[collector] {
		return true
	}
	return f.enablement[collector]
}

// Snapshot returns a copy of the current enablement, or nil before the
// first successful query.
func (f *collectorFilter) Snapshot() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.enablement == nil {
		return nil
	}
	out := make(map[string]bool, len(f.enablement))
	for k, v := range f.enablement {
		out[k] = v
	}
	return out
}

var errEmptyCollectorStatus = errors.New("collector status response was empty")

// CollectorSource reports agent collector enablement.
type CollectorSource interface {
	CollectorStatus(ctx context.Context) (*unraid.CollectorStatus, error)
}
