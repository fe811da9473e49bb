// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teradata-labs/warp/internal/log"
	"go.uber.org/zap"
)

// DefaultKeepPerTeam is the default retention depth per (session, team).
const DefaultKeepPerTeam = 20

// RetentionScheduler prunes old executions on a cron schedule.
type RetentionScheduler struct {
	store       *Store
	cron        *cron.Cron
	keepPerTeam int
	logger      *zap.Logger
}

// NewRetentionScheduler creates a scheduler. spec is a standard cron
// expression ("0 3 * * *" for daily at 03:00); keepPerTeam <= 0 uses the
// default.
func NewRetentionScheduler(s *Store, spec string, keepPerTeam int) (*RetentionScheduler, error) {
	if keepPerTeam <= 0 {
		keepPerTeam = DefaultKeepPerTeam
	}
	r := &RetentionScheduler{
		store:       s,
		cron:        cron.New(),
		keepPerTeam: keepPerTeam,
		logger:      log.Logger(),
	}
	if _, err := r.cron.AddFunc(spec, r.runOnce); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins scheduling. Returns immediately.
func (r *RetentionScheduler) Start() {
	r.cron.Start()
}

// Stop cancels scheduling and waits for an in-flight prune to finish.
func (r *RetentionScheduler) Stop() {
	<-r.cron.Stop().Done()
}

func (r *RetentionScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	removed, err := r.store.PruneOldExecutions(ctx, r.keepPerTeam)
	if err != nil {
		// Retention is best-effort; never disturb a running session.
		r.logger.Debug("retention prune failed", zap.Error(err))
		return
	}
	if removed > 0 {
		r.logger.Info("pruned old team executions",
			zap.Int64("removed", removed),
			zap.Int("keep_per_team", r.keepPerTeam))
	}
}
