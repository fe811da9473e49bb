// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package team

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/teradata-labs/warp/pkg/merge"
	"github.com/teradata-labs/warp/pkg/store"
	"github.com/teradata-labs/warp/pkg/types"
	"go.uber.org/zap"
)

// persister wraps the store for one team execution. Every method is safe on
// a nil receiver (no store configured), and store failures are logged at
// debug and swallowed: persistence never aborts a run. Writes use a
// detached context so an engine abort still records its final state.
type persister struct {
	store  *store.Store
	logger *zap.Logger

	mu       sync.Mutex
	execID   int64
	agentIDs map[string]int64
	prevSnap int64
}

// newPersister creates the TeamExecution row. Returns nil when s is nil or
// the create fails.
func newPersister(s *store.Store, logger *zap.Logger, sessionID, teamName, task string, agentCount int) *persister {
	if s == nil {
		return nil
	}
	execID, err := s.CreateExecution(context.Background(), sessionID, teamName, task, agentCount)
	if err != nil {
		logger.Debug("create execution failed", zap.Error(err))
		return nil
	}
	return &persister{
		store:    s,
		logger:   logger,
		execID:   execID,
		agentIDs: make(map[string]int64),
	}
}

func (p *persister) executionID() int64 {
	if p == nil {
		return 0
	}
	return p.execID
}

func (p *persister) setStatus(status store.ExecutionStatus, errMsg string) {
	if p == nil {
		return
	}
	if err := p.store.UpdateExecutionStatus(context.Background(), p.execID, status, errMsg); err != nil {
		p.logger.Debug("update execution status failed",
			zap.String("status", string(status)), zap.Error(err))
	}
}

// agentDispatched creates the AgentResult row for an agent. Safe to call
// from concurrent agent goroutines.
func (p *persister) agentDispatched(agentName string) {
	if p == nil {
		return
	}
	id, err := p.store.CreateAgentResult(context.Background(), p.execID, agentName)
	if err != nil {
		p.logger.Debug("create agent result failed",
			zap.String("agent", agentName), zap.Error(err))
		return
	}
	p.mu.Lock()
	p.agentIDs[agentName] = id
	p.mu.Unlock()
}

func (p *persister) agentRowID(agentName string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.agentIDs[agentName]
	return id, ok
}

func (p *persister) agentStatus(agentName string, status store.AgentStatus) {
	if p == nil {
		return
	}
	id, ok := p.agentRowID(agentName)
	if !ok {
		return
	}
	update := store.AgentResultUpdate{Status: &status}
	if err := p.store.UpdateAgentResult(context.Background(), id, update); err != nil {
		p.logger.Debug("update agent status failed",
			zap.String("agent", agentName), zap.Error(err))
	}
}

// agentFinished records a completed or failed agent run.
func (p *persister) agentFinished(result *types.AgentResult) {
	if p == nil {
		return
	}
	id, ok := p.agentRowID(result.AgentName)
	if !ok {
		return
	}
	status := store.AgentFailed
	if result.Success {
		status = store.AgentCompleted
	}
	usage := result.Usage
	update := store.AgentResultUpdate{
		Status:     &status,
		Findings:   result.Findings,
		Messages:   result.Messages,
		Usage:      &usage,
		DurationMs: &result.DurationMs,
	}
	if result.Error != "" {
		update.Error = &result.Error
	}
	if err := p.store.UpdateAgentResult(context.Background(), id, update); err != nil {
		p.logger.Debug("persist agent result failed",
			zap.String("agent", result.AgentName), zap.Error(err))
	}
}

// phaseTransition patches the previous snapshot's output with the
// transition marker and opens a snapshot for the new phase.
func (p *persister) phaseTransition(phase merge.Phase, inputData []byte) {
	if p == nil {
		return
	}
	p.closePrevSnapshot(string(phase))
	id, err := p.store.CreateMergeSnapshot(context.Background(), p.execID, store.MergePhase(phase), inputData)
	if err != nil {
		p.logger.Debug("create merge snapshot failed",
			zap.String("phase", string(phase)), zap.Error(err))
		return
	}
	p.prevSnap = id
}

// mergeCompleted writes the final snapshot carrying the contractual
// {findings, clusters, summary} output.
func (p *persister) mergeCompleted(output *types.MergeOutput) {
	if p == nil {
		return
	}
	p.closePrevSnapshot(string(store.PhaseCompleted))
	id, err := p.store.CreateMergeSnapshot(context.Background(), p.execID, store.PhaseCompleted, nil)
	if err != nil {
		p.logger.Debug("create final snapshot failed", zap.Error(err))
		return
	}
	data, err := json.Marshal(output)
	if err != nil {
		p.logger.Debug("marshal merge output failed", zap.Error(err))
		return
	}
	if err := p.store.UpdateMergeSnapshot(context.Background(), id, data); err != nil {
		p.logger.Debug("write final snapshot failed", zap.Error(err))
	}
	p.prevSnap = id
}

func (p *persister) closePrevSnapshot(nextPhase string) {
	if p.prevSnap == 0 {
		return
	}
	data, _ := json.Marshal(map[string]interface{}{
		"phase":          nextPhase,
		"transitionTime": time.Now().UnixMilli(),
	})
	if err := p.store.UpdateMergeSnapshot(context.Background(), p.prevSnap, data); err != nil {
		p.logger.Debug("patch merge snapshot failed", zap.Error(err))
	}
}
