package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"xama/pkg/xama"
)

// Sweeper periodically revisits idle sessions: stale profiles get a
// decay-only re-score and sessions past the absolute ceiling are expired.
// A sweep racing a request-path update is tolerated; last write wins.
type Sweeper struct {
	store      Store
	log        *zap.Logger
	interval   time.Duration
	staleAfter time.Duration
	clock      func() time.Time
}

func NewSweeper(store Store, log *zap.Logger, interval, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		store:      store,
		log:        log,
		interval:   interval,
		staleAfter: staleAfter,
		clock:      time.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ids, err := s.store.ListSessionIDs(ctx)
	if err != nil {
		s.log.Error("list sessions", zap.Error(err))
		return
	}
	now := s.clock()
	for _, id := range ids {
		state, err := s.store.GetSession(ctx, id)
		if err != nil {
			continue
		}
		if state.Profile.ContinuousAuthStatus == xama.StatusExpired {
			continue
		}

		report := xama.GenerateSessionHealthReport(state.Profile, now)
		switch {
		case report.MinutesToExpiry <= 0:
			state.Profile.ContinuousAuthStatus = xama.StatusExpired
			state.UpdatedAt = now
			if err := s.store.SaveSession(ctx, state); err != nil {
				s.log.Error("expire session", zap.String("session_id", id), zap.Error(err))
				continue
			}
			s.log.Info("session expired by sweep", zap.String("session_id", id))
		case now.Sub(state.UpdatedAt) >= s.staleAfter:
			state.Profile = xama.DecayProfile(state.Profile, now)
			state.UpdatedAt = now
			if err := s.store.SaveSession(ctx, state); err != nil {
				s.log.Error("decay session", zap.String("session_id", id), zap.Error(err))
				continue
			}
			if state.Profile.ContinuousAuthStatus == xama.StatusDegraded {
				s.log.Info("idle session degraded",
					zap.String("session_id", id),
					zap.Int("trust_score", state.Profile.OverallTrustScore),
				)
			}
		}
	}
}
