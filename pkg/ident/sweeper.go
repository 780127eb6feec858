package ident

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultSweepInterval is the default period between decay sweeps.
const defaultSweepInterval = 24 * time.Hour

// minReferenceAge is the age below which an embedding owes no decay and is
// never considered by the sweep.
const minReferenceAge = 30 * 24 * time.Hour

// SweepResult summarises one decay sweep.
type SweepResult struct {
	// Scanned is the number of decay candidates examined.
	Scanned int

	// Decayed is the number of embeddings whose confidence was reduced.
	Decayed int

	// Pruned is the number of floor-confidence embeddings deleted under
	// the retention policy.
	Pruned int
}

// Sweeper is the periodic maintenance job applying time decay to stale
// embeddings. An embedding unreferenced by any identification event for
// more than 30 days loses 0.05 confidence, 90 days 0.10, 180 days 0.15 —
// cumulative totals from the last reference, so daily sweeps are idempotent
// within a band. Decay never drops confidence below the floor, and every
// application is a confidence-history row with reason decay.
//
// All methods are safe for concurrent use.
type Sweeper struct {
	store    Store
	bus      *Bus
	interval time.Duration

	// pruneAfter deletes embeddings stuck at the confidence floor whose
	// last reference is older than this. 0 disables pruning. Pruning never
	// removes a speaker's last embedding.
	pruneAfter time.Duration

	// onSweep, when set, observes each completed sweep. Used by the
	// application layer to record metrics without this package depending
	// on the telemetry stack.
	onSweep func(SweepResult)

	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// SweeperConfig configures a [Sweeper].
type SweeperConfig struct {
	// Store is the repository to sweep.
	Store Store

	// Bus, when non-nil, receives a decay notification after each sweep
	// that adjusted at least one embedding.
	Bus *Bus

	// Interval is the period between sweeps. Defaults to 24h when zero.
	Interval time.Duration

	// PruneAfter enables deletion of floor-confidence embeddings older
	// than this. 0 disables pruning.
	PruneAfter time.Duration

	// OnSweep observes completed sweeps. May be nil.
	OnSweep func(SweepResult)

	// Now replaces the time source, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewSweeper creates a [Sweeper] from cfg.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		store:      cfg.Store,
		bus:        cfg.Bus,
		interval:   interval,
		pruneAfter: cfg.PruneAfter,
		onSweep:    cfg.OnSweep,
		now:        now,
		done:       make(chan struct{}),
	}
}

// Run executes periodic sweeps until ctx is cancelled or [Sweeper.Stop] is
// called. The first sweep happens after one full interval, not at startup —
// a restart loop must not hammer the store.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			if _, err := s.SweepNow(ctx); err != nil {
				slog.Warn("decay sweep failed", "err", err)
			}
		}
	}
}

// Stop halts the periodic loop. Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// SweepNow performs one decay sweep immediately and returns its summary.
func (s *Sweeper) SweepNow(ctx context.Context) (SweepResult, error) {
	now := s.now()
	candidates, err := s.store.DecayCandidates(ctx, now.Add(-minReferenceAge))
	if err != nil {
		return SweepResult{}, err
	}

	var res SweepResult
	res.Scanned = len(candidates)

	for _, cand := range candidates {
		age := now.Sub(cand.LastReference)
		owed := DecayFor(age) - cand.DecayApplied
		if owed > 1e-9 && cand.Embedding.Confidence > ConfidenceFloor {
			if _, err := s.store.UpdateConfidence(ctx, cand.Embedding.ID, ReasonDecay, func(old float64) float64 {
				return Clamp(old - owed)
			}); err != nil {
				if IsNotFound(err) {
					continue // cascaded away since the snapshot
				}
				return res, err
			}
			res.Decayed++
			continue
		}

		if s.prunable(ctx, cand, age) {
			if err := s.store.DeleteEmbedding(ctx, cand.Embedding.ID); err != nil {
				return res, err
			}
			res.Pruned++
		}
	}

	if res.Decayed > 0 || res.Pruned > 0 {
		slog.Info("decay sweep complete",
			"scanned", res.Scanned, "decayed", res.Decayed, "pruned", res.Pruned)
		if s.bus != nil {
			s.bus.Publish(BusEvent{Topic: TopicDecay, At: now})
		}
	}
	if s.onSweep != nil {
		s.onSweep(res)
	}
	return res, nil
}

// prunable reports whether a candidate qualifies for stale-sample pruning:
// the policy is enabled, the embedding sits at the confidence floor, it is
// old enough, and it is not the speaker's last remaining sample.
func (s *Sweeper) prunable(ctx context.Context, cand DecayCandidate, age time.Duration) bool {
	if s.pruneAfter <= 0 || age < s.pruneAfter {
		return false
	}
	if cand.Embedding.Confidence > ConfidenceFloor {
		return false
	}
	stats, err := s.store.SpeakerStats(ctx, cand.Embedding.SpeakerID)
	if err != nil || stats.EmbeddingCount <= 1 {
		return false
	}
	return true
}
