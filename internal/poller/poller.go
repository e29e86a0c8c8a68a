// Package poller drives a bounded synchronization loop for one provider batch
// when webhooks are late or missing.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voice-campaigns/internal/provider"
	"voice-campaigns/internal/reconcile"

	"github.com/google/uuid"
)

// State is how a poll run ended.
type State string

const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	// StateTimedOut means the iteration budget ran out. The sweeper is the backstop.
	StateTimedOut State = "timed_out"
	// StateSkipped means another instance holds the batch lease.
	StateSkipped State = "skipped"
	// StateCanceled means ctx was canceled, normally at process shutdown.
	StateCanceled State = "canceled"
)

type Config struct {
	Interval      time.Duration
	MaxIterations int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 60
	}
	return c
}

// Engine is the subset of *reconcile.Engine the poller drives.
type Engine interface {
	IngestBatchStatusEvent(ctx context.Context, ev reconcile.BatchStatusEvent) (reconcile.BatchOutcome, error)
	IngestRecipientSnapshot(ctx context.Context, batchID string, snaps []reconcile.RecipientSnapshot) (reconcile.SnapshotResult, error)
	IngestConversationEvent(ctx context.Context, ev reconcile.ConversationEvent) (reconcile.ConversationResult, error)
	SettleCampaignMinutes(ctx context.Context, batchID, userID string, failed bool) (reconcile.Settlement, error)
}

type Poller struct {
	provider provider.Provider
	engine   Engine
	lease    Lease
	cfg      Config
	log      *slog.Logger
}

func New(p provider.Provider, eng Engine, lease Lease, cfg Config, log *slog.Logger) *Poller {
	if lease == nil {
		lease = LocalLease{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		provider: p,
		engine:   eng,
		lease:    lease,
		cfg:      cfg.withDefaults(),
		log:      log.With("component", "poller"),
	}
}

// Result summarizes one Run.
type Result struct {
	BatchID    string `json:"batch_id"`
	State      State  `json:"state"`
	Iterations int    `json:"iterations"`
	Errors     int    `json:"errors"`
	LastStatus string `json:"last_status,omitempty"`
}

// Run polls batchID until the provider reports a terminal status or the
// iteration budget is spent. Per-iteration errors are logged and counted; they
// never stop the loop early. The only error returned is a lease failure.
func (p *Poller) Run(ctx context.Context, batchID string) (Result, error) {
	res := Result{BatchID: batchID}
	log := p.log.With("batch_id", batchID)

	key := "poller:batch:" + batchID
	token := uuid.NewString()
	ttl := p.cfg.Interval*time.Duration(p.cfg.MaxIterations) + time.Minute
	ok, err := p.lease.Acquire(ctx, key, token, ttl)
	if err != nil {
		return res, err
	}
	if !ok {
		log.Info("batch already polled elsewhere")
		res.State = StateSkipped
		return res, nil
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := p.lease.Release(relCtx, key, token); err != nil {
			log.Warn("release lease failed", "err", err)
		}
	}()

	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	for res.Iterations < p.cfg.MaxIterations {
		if res.Iterations > 0 {
			select {
			case <-ctx.Done():
				res.State = StateCanceled
				return res, nil
			case <-timer.C:
			}
		}
		res.Iterations++

		state, status, errs := p.iterate(ctx, batchID, res.Iterations == p.cfg.MaxIterations)
		res.Errors += errs
		if status != "" {
			res.LastStatus = status
		}
		if state != "" {
			res.State = state
			log.Info("poll finished", "state", state, "iterations", res.Iterations, "errors", res.Errors)
			return res, nil
		}
		timer.Reset(p.cfg.Interval)
	}

	res.State = StateTimedOut
	log.Warn("poll budget exhausted", "iterations", res.Iterations, "errors", res.Errors, "last_status", res.LastStatus)
	return res, nil
}

// iterate runs one sync pass. It returns a non-empty state when polling should stop.
//
// Recipients and their conversations are ingested before the batch status so
// that a completion observed in this pass settles against every call it has seen.
// A completion is held back while conversation fetches fail, except on the final
// iteration: the campaign must still reach completed so the sweeper can recount.
func (p *Poller) iterate(ctx context.Context, batchID string, final bool) (State, string, int) {
	log := p.log.With("batch_id", batchID)
	errs := 0

	b, err := p.provider.GetBatch(ctx, batchID)
	if err != nil {
		log.Warn("fetch batch failed", "err", err, "transient", provider.IsTransient(err))
		return "", "", 1
	}
	statusEv, snaps := reconcile.SnapshotFromProvider(b)
	transition := reconcile.MapBatchStatus(b.Status)

	snap, err := p.engine.IngestRecipientSnapshot(ctx, batchID, snaps)
	if err != nil {
		log.Warn("ingest recipients failed", "err", err)
		errs++
	}
	errs += snap.Failed

	convErrs := 0
	for _, id := range snap.PendingConversations {
		c, err := p.provider.GetConversation(ctx, id)
		if err != nil {
			log.Warn("fetch conversation failed", "conversation_id", id, "err", err)
			convErrs++
			continue
		}
		if _, err := p.engine.IngestConversationEvent(ctx, reconcile.ConversationEventFromProvider(c, nil)); err != nil {
			log.Warn("ingest conversation failed", "conversation_id", id, "err", err)
			convErrs++
		}
	}
	errs += convErrs

	if transition == reconcile.Completed && convErrs > 0 {
		if !final {
			return "", b.Status, errs
		}
		log.Warn("settling with unfetched conversations", "missing", convErrs)
	}

	out, err := p.engine.IngestBatchStatusEvent(ctx, statusEv)
	if err != nil {
		log.Warn("ingest batch status failed", "err", err)
		return "", b.Status, errs + 1
	}

	switch transition {
	case reconcile.Completed:
		return StateCompleted, b.Status, errs
	case reconcile.Failed:
		if out.Settlement == nil && !out.SettlementSkipped {
			if _, err := p.engine.SettleCampaignMinutes(ctx, batchID, out.Batch.UserID, true); err != nil {
				var nd *reconcile.NoDeductionFoundError
				if !errors.As(err, &nd) {
					log.Error("settle failed batch", "err", err)
					errs++
				}
			}
		}
		return StateFailed, b.Status, errs
	default:
		return "", b.Status, errs
	}
}
