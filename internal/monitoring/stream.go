package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/domains"
	internalerrors "github.com/ruaan-deysel/ha-unraid-management-agent/internal/errors"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/snapshot"
	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

// runStream drives the push connection state machine until ctx is done:
// Disconnected -> Connecting -> Connected -> Reconnecting -> Connecting ...
func (c *Coordinator) runStream(ctx context.Context) {
	attempt := 0
	var lastDelay time.Duration
	for {
		if ctx.Err() != nil {
			return
		}

		c.setConnectionState(Connecting)
		source, err := c.openStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			event := c.logger.Debug()
			if attempt == 0 {
				event = c.logger.Warn()
			}
			event.Err(err).Int("attempt", attempt+1).Msg("Failed to connect to Unraid push stream")
		} else {
			attempt = 0
			lastDelay = 0
			session := ulid.Make().String()
			c.setSession(session, attempt)
			c.setConnectionState(Connected)

			logger := c.logger.With().Str("session", session).Logger()
			logger.Info().Msg("Unraid push stream connected")

			err = c.receive(ctx, source, logger)
			if closeErr := source.Close(); closeErr != nil {
				logger.Debug().Err(closeErr).Msg("Error closing push stream")
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("Unraid push stream disconnected")
		}

		c.setConnectionState(Reconnecting)
		delay := c.opts.Backoff.nextDelay(attempt, lastDelay, c.rng())
		lastDelay = delay
		attempt++
		c.setSession("", attempt)
		c.metrics.RecordReconnectDelay(delay)
		c.logger.Debug().Dur("delay", delay).Int("attempt", attempt).Msg("Reconnecting to Unraid push stream")

		if !c.sleep(ctx, delay) {
			return
		}
	}
}

func (c *Coordinator) openStream(ctx context.Context) (EventSource, error) {
	cctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	source, err := c.deps.Stream.Open(cctx)
	if err != nil {
		return nil, internalerrors.Classify("connect", c.opts.Instance, err)
	}
	if source == nil {
		return nil, internalerrors.WrapConnectionError("connect", c.opts.Instance, fmt.Errorf("stream opener returned no source"))
	}
	return source, nil
}

// receive applies events until the stream fails or ctx is cancelled.
func (c *Coordinator) receive(ctx context.Context, source EventSource, logger zerolog.Logger) error {
	for {
		ev, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive push event: %w", err)
		}
		c.handleEvent(ev, logger)
	}
}

// handleEvent classifies and commits one event. It never panics.
func (c *Coordinator) handleEvent(ev unraid.Event, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("event", string(ev.Type)).Msg("Recovered from panic while handling push event")
			c.metrics.RecordDropped("panic")
		}
	}()

	d, m, err := c.registry.Classify(ev)
	switch {
	case errors.Is(err, domains.ErrEmptyEvent):
		c.metrics.RecordDropped("empty")
		return
	case errors.Is(err, domains.ErrUnclassified):
		logger.Debug().Strs("keys", ev.Keys).Bool("list", ev.List).Msg("Received unknown push event")
		c.metrics.RecordDropped("unknown")
		return
	case err != nil:
		logger.Debug().Err(err).Msg("Dropping malformed push event")
		c.metrics.RecordDropped("invalid")
		return
	}

	if _, err := c.commit(d, m, snapshot.SourcePush); err != nil {
		if errors.Is(err, errDomainDisabled) {
			logger.Debug().Str("domain", d.Name).Msg("Dropping push event for disabled collector")
			c.metrics.RecordDropped("disabled")
			return
		}
		logger.Warn().Err(err).Str("domain", d.Name).Msg("Failed to commit push event")
		c.metrics.RecordDropped("commit")
	}
}

func (c *Coordinator) setSession(session string, attempt int) {
	c.statusMu.Lock()
	c.session = session
	c.reconnectAttempt = attempt
	c.statusMu.Unlock()
}
