// Package poll runs the scheduled re-scan: it refreshes market metrics for
// WebSocket subscribers and announces newly resolved markets and fresh claims
// through the notifier, using the seen-state file to avoid repeats.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oddsight/pnl-engine/internal/engine"
	"github.com/oddsight/pnl-engine/internal/metrics"
	"github.com/oddsight/pnl-engine/internal/model"
	"github.com/oddsight/pnl-engine/internal/notify"
	"github.com/oddsight/pnl-engine/internal/pager"
	"github.com/oddsight/pnl-engine/internal/seen"
	"github.com/oddsight/pnl-engine/internal/source"
)

// Broadcaster pushes a metrics snapshot to connected clients. Implemented by
// the API WebSocket hub.
type Broadcaster interface {
	BroadcastMetrics(runID string, markets []model.MarketMetrics)
}

// Poller drives the periodic re-scan. Notifier and broadcaster are optional.
type Poller struct {
	engine        *engine.Engine
	src           source.Source
	store         *seen.Store
	notifier      notify.Notifier
	broadcaster   Broadcaster
	interval      time.Duration
	pageSize      int
	positionScale int32
}

// New creates a poller.
func New(
	eng *engine.Engine,
	src source.Source,
	store *seen.Store,
	notifier notify.Notifier,
	broadcaster Broadcaster,
	interval time.Duration,
	pageSize int,
	positionScale int32,
) *Poller {
	if pageSize <= 0 {
		pageSize = 1000
	}
	if positionScale == 0 {
		positionScale = 18
	}
	return &Poller{
		engine:        eng,
		src:           src,
		store:         store,
		notifier:      notifier,
		broadcaster:   broadcaster,
		interval:      interval,
		pageSize:      pageSize,
		positionScale: positionScale,
	}
}

// Run loops until the context is cancelled. One failed iteration is logged
// and counted; the next tick retries from scratch.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("poller started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			if err := p.store.Flush(); err != nil {
				slog.Error("seen-state flush on shutdown failed", "err", err)
			}
			slog.Info("poller stopped")
			return
		case <-ticker.C:
			if err := p.runOnce(ctx); err != nil {
				metrics.PollRuns.WithLabelValues("error").Inc()
				slog.Error("poll run failed", "err", err)
				continue
			}
			metrics.PollRuns.WithLabelValues("ok").Inc()
		}
	}
}

// runOnce performs one full iteration.
func (p *Poller) runOnce(ctx context.Context) error {
	runID := uuid.NewString()
	start := time.Now()

	marketMetrics, err := p.engine.MarketMetrics(ctx)
	if err != nil {
		return fmt.Errorf("market metrics: %w", err)
	}
	if p.broadcaster != nil {
		p.broadcaster.BroadcastMetrics(runID, marketMetrics)
	}

	if err := p.announceResolutions(ctx); err != nil {
		return err
	}
	if err := p.announceClaims(ctx); err != nil {
		return err
	}
	if err := p.store.Flush(); err != nil {
		return fmt.Errorf("seen-state flush: %w", err)
	}

	slog.Info("poll run complete",
		"run_id", runID,
		"markets", len(marketMetrics),
		"took", time.Since(start))
	return nil
}

// announceResolutions notifies once per newly resolved market.
func (p *Poller) announceResolutions(ctx context.Context) error {
	fetch := func(ctx context.Context, offset, limit int) ([]model.MarketOutcome, error) {
		return p.src.Outcomes(ctx, source.OutcomeFilter{}, offset, limit)
	}
	return pager.Each(ctx, p.pageSize, fetch, func(page []model.MarketOutcome) error {
		for _, row := range page {
			if !row.Resolved() {
				continue
			}
			market := model.NormalizeAddress(row.Market)
			if !p.store.MarkResolved(market, row.Timestamp) {
				continue
			}
			p.send(ctx, notify.FormatResolution(market, *row.Answer))
		}
		return nil
	})
}

// announceClaims notifies once per unseen claim event.
func (p *Poller) announceClaims(ctx context.Context) error {
	fetch := func(ctx context.Context, offset, limit int) ([]model.ClaimRecord, error) {
		return p.src.Claims(ctx, "", offset, limit)
	}
	return pager.Each(ctx, p.pageSize, fetch, func(page []model.ClaimRecord) error {
		for _, rec := range page {
			key := fmt.Sprintf("%s@%d", model.Key(rec.User, rec.Market, rec.TokenID), rec.Timestamp)
			if !p.store.MarkClaim(key, rec.Timestamp) {
				continue
			}
			p.send(ctx, notify.FormatClaim(rec, p.positionScale))
		}
		return nil
	})
}

// send delivers one notification, logging failures instead of aborting the
// run. A missed message is recoverable, a stuck poller is not.
func (p *Poller) send(ctx context.Context, text string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Send(ctx, text); err != nil {
		slog.Warn("notification failed", "err", err)
		return
	}
	metrics.NotificationsSent.Inc()
}
