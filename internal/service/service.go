// Package service places submitted records on documents held in a store and
// fans accepted records out over a bus.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"

	"collabtext/internal/bus"
	"collabtext/internal/changeset"
	"collabtext/internal/collab"
	"collabtext/internal/config"
	"collabtext/internal/metrics"
	"collabtext/internal/store"
)

// Options tune a Service.
type Options struct {
	// Retention is the number of records kept behind the head before older
	// ones are composed into the tail.
	Retention int

	// DedupeWindow is the number of compacted records whose idempotency ids
	// are still recognized.
	DedupeWindow int

	// MaxRetries bounds how often a submission is reconciled again after
	// losing an append race.
	MaxRetries int

	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Now stamps accepted records. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Retention:       500,
		DedupeWindow:    100,
		MaxRetries:      8,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
	}
}

// OptionsFromConfig maps the history and retry sections of a Config.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Retention:       cfg.History.Retention,
		DedupeWindow:    cfg.History.DedupeWindow,
		MaxRetries:      cfg.Retry.MaxRetries,
		InitialInterval: cfg.Retry.InitialInterval(),
		MaxInterval:     cfg.Retry.MaxInterval(),
	}
}

// Service coordinates reconciliation, persistence and fan-out.
type Service struct {
	store  store.Store
	bus    bus.Bus
	opts   Options
	logger *slog.Logger
}

// New returns a Service over st and b.
func New(st store.Store, b bus.Bus, opts Options, logger *slog.Logger) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retention < 1 {
		opts.Retention = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, bus: b, opts: opts, logger: logger}
}

// Bus returns the bus records are published on.
func (s *Service) Bus() bus.Bus {
	return s.bus
}

// Create stores a new document holding text.
func (s *Service) Create(ctx context.Context, docID, text string) (collab.RevisionText, error) {
	head, err := s.store.Create(ctx, docID, changeset.FromText(text))
	if err != nil {
		return collab.RevisionText{}, err
	}
	s.logger.Info("document created", "doc", docID, "length", head.Changeset.Length())
	return head, nil
}

// Snapshot returns the head of a document and the records after revision
// after.
func (s *Service) Snapshot(ctx context.Context, docID string, after int) (*store.Snapshot, error) {
	return s.store.Snapshot(ctx, docID, after)
}

// Submit reconciles sub against the head of docID and stores the result.
//
// A resubmission returns the previously accepted record with ResultExisting.
// When another submission wins the race for the next revision the whole
// reconciliation runs again on the new head.
func (s *Service) Submit(ctx context.Context, docID string, sub collab.SubmittedRecord) (collab.Result, error) {
	var res collab.Result
	attempt := func() error {
		start := time.Now()
		snap, err := s.store.Snapshot(ctx, docID, sub.TargetRevision)
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := collab.ProcessSubmittedRecord(collab.Input{
			Submitted:    sub,
			Head:         snap.Head,
			TailRevision: snap.Tail.Revision,
			Records:      snap.Records,
			Recent:       snap.Recent,
			Now:          s.opts.Now(),
		})
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return backoff.Permanent(err)
		}
		if r.Type == collab.ResultNew {
			metrics.RebaseDepth.Observe(float64(len(snap.Records)))
			if err := s.store.Append(ctx, docID, r.Record, r.Head); err != nil {
				if errors.Is(err, store.ErrConflict) {
					metrics.AppendConflicts.Inc()
					return err
				}
				return backoff.Permanent(err)
			}
		}
		res = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		s.logger.Debug("append conflict, reconciling again", "doc", docID, "idempotency_id", sub.IdempotencyID, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(attempt, s.retryPolicy(ctx), notify); err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.Submissions.WithLabelValues(metrics.OutcomeExhausted).Inc()
			return collab.Result{}, fmt.Errorf("submit to %s after %d retries: %w", docID, s.opts.MaxRetries, err)
		}
		metrics.Submissions.WithLabelValues(metrics.OutcomeRejected).Inc()
		s.logger.Info("submission rejected", "doc", docID, "target_revision", sub.TargetRevision, "error", err)
		return collab.Result{}, err
	}

	if res.Type == collab.ResultExisting {
		metrics.Submissions.WithLabelValues(metrics.OutcomeExisting).Inc()
		s.logger.Debug("duplicate submission", "doc", docID, "revision", res.Record.Revision, "idempotency_id", sub.IdempotencyID)
		return res, nil
	}

	metrics.Submissions.WithLabelValues(metrics.OutcomeNew).Inc()
	s.logger.Debug("record accepted", "doc", docID, "revision", res.Record.Revision, "author", res.Record.AuthorID)

	if err := s.bus.Publish(ctx, docID, res.Record); err != nil {
		s.logger.Warn("publish failed", "doc", docID, "revision", res.Record.Revision, "error", err)
	}
	if err := s.maybeCompact(ctx, docID, res.Head.Revision); err != nil {
		s.logger.Warn("compaction failed", "doc", docID, "error", err)
	}
	return res, nil
}

func (s *Service) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if s.opts.InitialInterval > 0 {
		exp.InitialInterval = s.opts.InitialInterval
	}
	if s.opts.MaxInterval > 0 {
		exp.MaxInterval = s.opts.MaxInterval
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.opts.MaxRetries)), ctx)
}

// maybeCompact composes everything older than Retention records behind head
// into the tail.
func (s *Service) maybeCompact(ctx context.Context, docID string, head int) error {
	snap, err := s.store.Snapshot(ctx, docID, 0)
	if err != nil {
		return err
	}
	target := head - s.opts.Retention
	if target <= snap.Tail.Revision {
		return nil
	}
	var fold []collab.ServerRecord
	for _, r := range snap.Records {
		if r.Revision > target {
			break
		}
		fold = append(fold, r)
	}
	tail, err := collab.ComposeNewTail(snap.Tail, fold)
	if err != nil {
		return err
	}
	if err := s.store.Compact(ctx, docID, tail, s.opts.DedupeWindow); err != nil {
		return err
	}
	metrics.Compactions.Inc()
	s.logger.Info("history compacted", "doc", docID, "tail", tail.Revision, "head", head)
	return nil
}
