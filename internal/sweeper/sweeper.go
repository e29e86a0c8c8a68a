// Package sweeper periodically settles completed campaigns whose refunds the
// webhook and poll paths never finalized.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"voice-campaigns/internal/campaigns"
	"voice-campaigns/internal/ledger"
	"voice-campaigns/internal/usage"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Interval time.Duration
	// GraceWindow is how long after launch a completed campaign is left to the primary paths.
	GraceWindow time.Duration
	BatchSize   int
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Ledger is the subset of *ledger.Service the sweeper uses.
type Ledger interface {
	OriginalDeduction(ctx context.Context, userID, batchID string) (ledger.Transaction, error)
	RefundOnce(ctx context.Context, req ledger.RefundRequest) (ledger.RefundResult, error)
}

type Sweeper struct {
	store  campaigns.Store
	ledger Ledger
	cfg    Config
	log    *slog.Logger
	clock  func() time.Time

	// Settled campaigns stay completed forever, so each sweep resumes after the
	// last campaign it scanned and wraps once a page comes back short.
	mu     sync.Mutex
	cursor campaigns.StaleCursor
}

func New(store campaigns.Store, l Ledger, cfg Config, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:  store,
		ledger: l,
		cfg:    cfg.withDefaults(),
		log:    log.With("component", "sweeper"),
		clock:  time.Now,
	}
}

// Report counts what one sweep did.
type Report struct {
	Scanned         int `json:"scanned"`
	Refunded        int `json:"refunded"`
	RefundedMinutes int `json:"refunded_minutes"`
	AlreadySettled  int `json:"already_settled"`
	NothingToRefund int `json:"nothing_to_refund"`
	Skipped         int `json:"skipped"`
	Failed          int `json:"failed"`
}

type outcome int

const (
	outcomeRefunded outcome = iota
	outcomeAlreadySettled
	outcomeNothing
	outcomeSkipped
)

// SweepOnce settles the next page of stale completed campaigns. Campaigns are
// processed concurrently; a failure on one is logged and counted and never
// stops the others.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().UTC().Add(-s.cfg.GraceWindow)
	list, err := s.store.ListStaleCompleted(ctx, cutoff, s.cursor, s.cfg.BatchSize)
	if err != nil {
		return Report{}, eris.Wrap(err, "sweeper: list stale campaigns")
	}
	if len(list) < s.cfg.BatchSize {
		s.cursor = campaigns.StaleCursor{}
	} else {
		s.cursor = campaigns.CursorAfter(list[len(list)-1])
	}

	var (
		mu  sync.Mutex
		rep = Report{Scanned: len(list)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, c := range list {
		g.Go(func() error {
			o, minutes, err := s.sweepCampaign(gctx, c)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				s.log.Error("sweep campaign failed", "campaign_id", c.ID, "err", err)
				return nil
			}
			switch o {
			case outcomeRefunded:
				rep.Refunded++
				rep.RefundedMinutes += minutes
			case outcomeAlreadySettled:
				rep.AlreadySettled++
			case outcomeNothing:
				rep.NothingToRefund++
			case outcomeSkipped:
				rep.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, eris.Wrap(err, "sweeper: wait")
	}

	s.log.Info("sweep complete",
		"scanned", rep.Scanned,
		"refunded", rep.Refunded,
		"refunded_minutes", rep.RefundedMinutes,
		"failed", rep.Failed,
	)
	return rep, nil
}

// sweepCampaign recounts usage from stored conversations and refunds the
// remainder through the same conditional insert the engine uses.
func (s *Sweeper) sweepCampaign(ctx context.Context, c campaigns.Campaign) (outcome, int, error) {
	log := s.log.With("campaign_id", c.ID, "user_id", c.UserID)

	b, err := s.store.GetBatchByCampaign(ctx, c.ID)
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			log.Warn("completed campaign has no batch")
			return outcomeSkipped, 0, nil
		}
		return 0, 0, err
	}

	expected := b.TotalCallsScheduled
	if expected == 0 {
		if expected, err = s.store.CountRecipients(ctx, b.ID); err != nil {
			return 0, 0, err
		}
	}

	convs, err := s.store.ListConversations(ctx, campaigns.ConversationFilter{CampaignID: c.ID})
	if err != nil {
		return 0, 0, err
	}
	totals := usage.Sum(convs)

	orig, err := s.ledger.OriginalDeduction(ctx, c.UserID, b.ID)
	if err != nil {
		if errors.Is(err, ledger.ErrNoDeduction) {
			log.Info("no deduction to settle", "batch_id", b.ID)
			return outcomeSkipped, 0, nil
		}
		return 0, 0, err
	}

	refund := usage.RefundFor(orig.Minutes, totals.BillableMinutes)
	log.Debug("recount",
		"batch_id", b.ID,
		"expected_calls", expected,
		"billable_calls", totals.BillableCalls,
		"deducted", orig.Minutes,
		"used", totals.BillableMinutes,
	)
	if refund == 0 {
		return outcomeNothing, 0, nil
	}

	res, err := s.ledger.RefundOnce(ctx, ledger.RefundRequest{
		UserID:      c.UserID,
		CampaignID:  c.ID,
		BatchID:     b.ID,
		Minutes:     refund,
		Description: "sweeper: unused minutes",
	})
	if err != nil {
		return 0, 0, err
	}
	if !res.Applied {
		return outcomeAlreadySettled, 0, nil
	}
	log.Info("sweeper refund applied", "batch_id", b.ID, "minutes", res.Transaction.Minutes)
	return outcomeRefunded, res.Transaction.Minutes, nil
}

// Run sweeps on every Interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			s.log.Error("sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
