package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/domains"
	internalerrors "github.com/ruaan-deysel/ha-unraid-management-agent/internal/errors"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/snapshot"
)

// runPoller polls on a fixed interval and on coalesced refresh requests
// until ctx is cancelled.
func (c *Coordinator) runPoller(ctx context.Context) {
	if err := c.RefreshCollectors(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Initial collector query failed, polling every domain")
	}
	c.pollOnce(ctx)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		case <-c.refresh:
			c.logger.Debug().Msg("Running out-of-cycle refresh")
			c.pollOnce(ctx)
		}
	}
}

// pollOnce fetches every enabled domain independently. Successes are
// committed as they arrive. The cycle is a total failure when the required
// domain fails or nothing succeeds; it reports whether the cycle succeeded.
func (c *Coordinator) pollOnce(ctx context.Context) bool {
	var enabled []domains.Domain
	for _, d := range c.registry.All() {
		if c.filter.DomainEnabled(d) {
			enabled = append(enabled, d)
		}
	}

	var (
		successes      atomic.Int32
		requiredFailed atomic.Bool
	)

	var g errgroup.Group
	g.SetLimit(c.opts.MaxConcurrentFetches)
	for _, d := range enabled {
		g.Go(func() error {
			if c.fetchDomain(ctx, d) {
				successes.Add(1)
			} else if d.Required {
				requiredFailed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		// Shutdown mid-cycle says nothing about the server.
		return false
	}

	success := !requiredFailed.Load() && successes.Load() > 0
	if !success {
		c.logger.Debug().
			Err(internalerrors.ErrTotalPollFailure).
			Int32("successes", successes.Load()).
			Bool("required_failed", requiredFailed.Load()).
			Msg("Poll cycle failed")
	}
	c.recordPollResult(success)
	return success
}

func (c *Coordinator) fetchDomain(ctx context.Context, d domains.Domain) (ok bool) {
	start := c.now()
	var fetchErr error
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("domain", d.Name).Msg("Recovered from panic while fetching domain")
			fetchErr = fmt.Errorf("panic: %v", r)
			ok = false
		}
		c.metrics.RecordFetch(FetchResult{
			Domain:    d.Name,
			Success:   ok,
			Error:     fetchErr,
			StartTime: start,
			EndTime:   c.now(),
		})
	}()

	fctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	m, err := d.Fetch(fctx, c.deps.API)
	if err != nil {
		fetchErr = internalerrors.Classify("fetch", c.opts.Instance, err).WithDomain(d.Name)
		c.logger.Debug().Err(fetchErr).Str("domain", d.Name).Msg("Domain fetch failed")
		return false
	}

	if _, err := c.commit(d, m, snapshot.SourcePoll); err != nil {
		fetchErr = err
		if !errors.Is(err, errDomainDisabled) {
			c.logger.Warn().Err(err).Str("domain", d.Name).Msg("Failed to commit polled domain")
		}
		return false
	}
	return true
}
