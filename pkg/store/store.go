// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package store persists team executions, per-agent results and merge
// snapshots to an embedded SQLite database so a crashed run can be
// reconstructed. One database per (session, team) pair; the store owns the
// write lock and callers must not share a handle across processes.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/teradata-labs/warp/internal/sqlitedriver" // registers "sqlite3"
	"github.com/teradata-labs/warp/pkg/types"
)

// ExecutionStatus tracks a team execution's lifecycle.
type ExecutionStatus string

// Execution statuses.
const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionMerging   ExecutionStatus = "merging"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionAborted   ExecutionStatus = "aborted"
)

// Terminal reports whether the status closes the execution.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionAborted
}

// AgentStatus tracks a stored agent result's lifecycle.
type AgentStatus string

// Agent result statuses.
const (
	AgentPending   AgentStatus = "pending"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
	AgentRetrying  AgentStatus = "retrying"
)

// MergePhase identifies one merge pipeline phase.
type MergePhase string

// Merge phases, in pipeline order.
const (
	PhaseParsing      MergePhase = "parsing"
	PhaseClustering   MergePhase = "clustering"
	PhaseVerifying    MergePhase = "verifying"
	PhaseRanking      MergePhase = "ranking"
	PhaseSynthesizing MergePhase = "synthesizing"
	PhaseCompleted    MergePhase = "completed"
)

// TeamExecution is one persisted team run.
type TeamExecution struct {
	ID          int64
	SessionID   string
	TeamName    string
	Task        string
	Status      ExecutionStatus
	AgentCount  int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// StoredAgentResult is one persisted agent execution.
type StoredAgentResult struct {
	ID          int64
	ExecutionID int64
	AgentName   string
	Status      AgentStatus
	Findings    []types.Finding
	Messages    []types.Message
	Usage       types.Usage
	DurationMs  int64
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MergeSnapshot is the persisted input/output of one merge phase.
type MergeSnapshot struct {
	ID          int64
	ExecutionID int64
	Phase       MergePhase
	InputData   []byte
	OutputData  []byte
	CreatedAt   time.Time
}

// Store is the persistence layer. Thread-safe; writes are serialized.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// DBPath computes the database location for a session/team pair:
// <dataDir>/team-executions/<sanitizedPrefix>_<hash16>/team.db. The result
// is guaranteed to lie within dataDir.
func DBPath(dataDir, sessionID string) (string, error) {
	sum := sha256.Sum256([]byte(sessionID))
	dir := sanitizePrefix(sessionID) + "_" + hex.EncodeToString(sum[:8])

	root, err := filepath.Abs(dataDir)
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	path := filepath.Join(root, "team-executions", dir, "team.db")
	if !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("database path %q escapes data dir %q", path, root)
	}
	return path, nil
}

// sanitizePrefix keeps the first 20 filename-safe characters of the session
// id so directory names stay recognizable.
func sanitizePrefix(sessionID string) string {
	out := make([]byte, 0, 20)
	for i := 0; i < len(sessionID) && len(out) < 20; i++ {
		c := sessionID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return "session"
	}
	return string(out)
}

// Open opens (or creates) the database for a session under dataDir and
// migrates the schema forward.
func Open(dataDir, sessionID string) (*Store, error) {
	path, err := DBPath(dataDir, sessionID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return OpenPath(path)
}

// OpenPath opens a database at an explicit path. Used by tests and by
// recovery tooling that already knows the location.
func OpenPath(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	// Single writer; serialize at the pool level too.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// Executions
// ============================================================================

// CreateExecution inserts a new pending execution and returns its id.
func (s *Store) CreateExecution(ctx context.Context, sessionID, teamName, task string, agentCount int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO team_executions (session_id, team_name, task, status, agent_count, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, teamName, task, string(ExecutionPending), agentCount, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("create execution: %w", err)
	}
	return res.LastInsertId()
}

// UpdateExecutionStatus transitions an execution. Terminal statuses also set
// completed_at.
func (s *Store) UpdateExecutionStatus(ctx context.Context, id int64, status ExecutionStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if status.Terminal() {
		_, err = s.db.ExecContext(ctx,
			`UPDATE team_executions SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
			string(status), nullString(errMsg), time.Now().UnixMilli(), id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE team_executions SET status = ?, error = ? WHERE id = ?`,
			string(status), nullString(errMsg), id)
	}
	if err != nil {
		return fmt.Errorf("update execution %d: %w", id, err)
	}
	return nil
}

// GetExecution loads one execution by id.
func (s *Store) GetExecution(ctx context.Context, id int64) (*TeamExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, team_name, task, status, agent_count, error, started_at, completed_at
		 FROM team_executions WHERE id = ?`, id)
	return scanExecution(row)
}

// GetLatestExecution returns the most recent execution for a session/team
// pair, or nil when none exists.
func (s *Store) GetLatestExecution(ctx context.Context, sessionID, teamName string) (*TeamExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, team_name, task, status, agent_count, error, started_at, completed_at
		 FROM team_executions WHERE session_id = ? AND team_name = ?
		 ORDER BY started_at DESC, id DESC LIMIT 1`, sessionID, teamName)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

// GetIncompleteExecutions returns every non-terminal execution for a
// session, oldest first. Used for crash recovery.
func (s *Store) GetIncompleteExecutions(ctx context.Context, sessionID string) ([]*TeamExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, team_name, task, status, agent_count, error, started_at, completed_at
		 FROM team_executions
		 WHERE session_id = ? AND status IN (?, ?, ?)
		 ORDER BY started_at ASC, id ASC`,
		sessionID, string(ExecutionPending), string(ExecutionRunning), string(ExecutionMerging))
	if err != nil {
		return nil, fmt.Errorf("query incomplete executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*TeamExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// PruneOldExecutions keeps the most recent keepPerTeam executions per
// (session, team) pair and cascade-deletes the rest. Returns the number of
// executions removed.
func (s *Store) PruneOldExecutions(ctx context.Context, keepPerTeam int) (int64, error) {
	if keepPerTeam < 1 {
		keepPerTeam = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM team_executions WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY session_id, team_name
					ORDER BY started_at DESC, id DESC
				) AS rn
				FROM team_executions
			) WHERE rn > ?
		)`, keepPerTeam)
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	return res.RowsAffected()
}

// ============================================================================
// Agent results
// ============================================================================

// CreateAgentResult inserts a pending agent result row and returns its id.
func (s *Store) CreateAgentResult(ctx context.Context, executionID int64, agentName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_results (execution_id, agent_name, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		executionID, agentName, string(AgentPending), now, now)
	if err != nil {
		return 0, fmt.Errorf("create agent result: %w", err)
	}
	return res.LastInsertId()
}

// AgentResultUpdate is a partial update; nil fields are left untouched.
type AgentResultUpdate struct {
	Status     *AgentStatus
	Findings   []types.Finding
	Messages   []types.Message
	Usage      *types.Usage
	DurationMs *int64
	Error      *string
}

// UpdateAgentResult applies a partial update. updated_at is always bumped.
func (s *Store) UpdateAgentResult(ctx context.Context, id int64, update AgentResultUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UnixMilli()}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Findings != nil {
		data, err := json.Marshal(update.Findings)
		if err != nil {
			return fmt.Errorf("marshal findings: %w", err)
		}
		sets = append(sets, "findings_json = ?")
		args = append(args, string(data))
	}
	if update.Messages != nil {
		blob, err := encodeMessages(update.Messages)
		if err != nil {
			return err
		}
		sets = append(sets, "messages_blob = ?")
		args = append(args, blob)
	}
	if update.Usage != nil {
		data, err := json.Marshal(update.Usage)
		if err != nil {
			return fmt.Errorf("marshal usage: %w", err)
		}
		sets = append(sets, "usage_json = ?")
		args = append(args, string(data))
	}
	if update.DurationMs != nil {
		sets = append(sets, "duration_ms = ?")
		args = append(args, *update.DurationMs)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullString(*update.Error))
	}
	args = append(args, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"UPDATE agent_results SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update agent result %d: %w", id, err)
	}
	return nil
}

// AppendFindings appends to the stored findings blob in one transaction.
func (s *Store) AppendFindings(ctx context.Context, agentResultID int64, newFindings []types.Finding) error {
	if len(newFindings) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append findings: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT findings_json FROM agent_results WHERE id = ?`, agentResultID).Scan(&existing); err != nil {
		return fmt.Errorf("read findings for %d: %w", agentResultID, err)
	}

	var findings []types.Finding
	if existing.Valid && existing.String != "" {
		if err := json.Unmarshal([]byte(existing.String), &findings); err != nil {
			return fmt.Errorf("decode findings for %d: %w", agentResultID, err)
		}
	}
	findings = append(findings, newFindings...)

	data, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE agent_results SET findings_json = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UnixMilli(), agentResultID); err != nil {
		return fmt.Errorf("write findings for %d: %w", agentResultID, err)
	}
	return tx.Commit()
}

// GetAgentResults loads every agent result for an execution, in creation
// order.
func (s *Store) GetAgentResults(ctx context.Context, executionID int64) ([]*StoredAgentResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, agent_name, status, findings_json, messages_blob,
		        usage_json, duration_ms, error, created_at, updated_at
		 FROM agent_results WHERE execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query agent results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*StoredAgentResult
	for rows.Next() {
		var (
			r        StoredAgentResult
			status   string
			findings sql.NullString
			blob     []byte
			usage    sql.NullString
			duration sql.NullInt64
			errMsg   sql.NullString
			created  int64
			updated  int64
		)
		if err := rows.Scan(&r.ID, &r.ExecutionID, &r.AgentName, &status, &findings,
			&blob, &usage, &duration, &errMsg, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan agent result: %w", err)
		}
		r.Status = AgentStatus(status)
		r.DurationMs = duration.Int64
		r.Error = errMsg.String
		r.CreatedAt = time.UnixMilli(created)
		r.UpdatedAt = time.UnixMilli(updated)
		if findings.Valid && findings.String != "" {
			if err := json.Unmarshal([]byte(findings.String), &r.Findings); err != nil {
				return nil, fmt.Errorf("decode findings for %d: %w", r.ID, err)
			}
		}
		if len(blob) > 0 {
			msgs, err := decodeMessages(blob)
			if err != nil {
				return nil, fmt.Errorf("decode messages for %d: %w", r.ID, err)
			}
			r.Messages = msgs
		}
		if usage.Valid && usage.String != "" {
			if err := json.Unmarshal([]byte(usage.String), &r.Usage); err != nil {
				return nil, fmt.Errorf("decode usage for %d: %w", r.ID, err)
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ============================================================================
// Merge snapshots
// ============================================================================

// CreateMergeSnapshot appends a snapshot for a new merge phase.
func (s *Store) CreateMergeSnapshot(ctx context.Context, executionID int64, phase MergePhase, inputData []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO merge_snapshots (execution_id, phase, input_data, created_at)
		 VALUES (?, ?, ?, ?)`,
		executionID, string(phase), inputData, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("create merge snapshot: %w", err)
	}
	return res.LastInsertId()
}

// UpdateMergeSnapshot patches a snapshot's output data when its phase ends.
func (s *Store) UpdateMergeSnapshot(ctx context.Context, id int64, outputData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE merge_snapshots SET output_data = ? WHERE id = ?`, outputData, id)
	if err != nil {
		return fmt.Errorf("update merge snapshot %d: %w", id, err)
	}
	return nil
}

// GetMergeSnapshots loads every snapshot for an execution, in phase order.
func (s *Store) GetMergeSnapshots(ctx context.Context, executionID int64) ([]*MergeSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, phase, input_data, output_data, created_at
		 FROM merge_snapshots WHERE execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query merge snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*MergeSnapshot
	for rows.Next() {
		var (
			snap    MergeSnapshot
			phase   string
			created int64
		)
		if err := rows.Scan(&snap.ID, &snap.ExecutionID, &phase, &snap.InputData, &snap.OutputData, &created); err != nil {
			return nil, fmt.Errorf("scan merge snapshot: %w", err)
		}
		snap.Phase = MergePhase(phase)
		snap.CreatedAt = time.UnixMilli(created)
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// ============================================================================
// Reconstruction
// ============================================================================

// GetCompleteTeamResult rebuilds a TeamResult from the store. The merged
// view comes from the last snapshot whose phase is synthesizing or
// completed; when no such snapshot has output data, the result falls back to
// the concatenated per-agent findings.
func (s *Store) GetCompleteTeamResult(ctx context.Context, executionID int64) (*types.TeamResult, error) {
	exec, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	agents, err := s.GetAgentResults(ctx, executionID)
	if err != nil {
		return nil, err
	}
	snapshots, err := s.GetMergeSnapshots(ctx, executionID)
	if err != nil {
		return nil, err
	}

	result := &types.TeamResult{TeamName: exec.TeamName, Error: exec.Error}
	if exec.CompletedAt != nil {
		result.DurationMs = exec.CompletedAt.Sub(exec.StartedAt).Milliseconds()
	}
	for _, a := range agents {
		result.AgentResults = append(result.AgentResults, types.AgentResult{
			AgentName:  a.AgentName,
			Success:    a.Status == AgentCompleted,
			Error:      a.Error,
			Messages:   a.Messages,
			Findings:   a.Findings,
			DurationMs: a.DurationMs,
			Usage:      a.Usage,
		})
		if a.Status == AgentCompleted {
			result.Success = true
		}
		result.TotalUsage.Add(a.Usage)
	}

	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if snap.Phase != PhaseSynthesizing && snap.Phase != PhaseCompleted {
			continue
		}
		if len(snap.OutputData) == 0 {
			continue
		}
		var merged types.MergeOutput
		if err := json.Unmarshal(snap.OutputData, &merged); err != nil {
			return nil, fmt.Errorf("decode merge snapshot %d: %w", snap.ID, err)
		}
		result.Findings = merged.Findings
		result.Clusters = merged.Clusters
		result.Summary = merged.Summary
		return result, nil
	}

	// No usable snapshot: concatenate per-agent findings.
	for _, a := range agents {
		result.Findings = append(result.Findings, a.Findings...)
	}
	return result, nil
}

// ============================================================================
// Helpers
// ============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*TeamExecution, error) {
	var (
		exec      TeamExecution
		status    string
		errMsg    sql.NullString
		started   int64
		completed sql.NullInt64
	)
	if err := row.Scan(&exec.ID, &exec.SessionID, &exec.TeamName, &exec.Task, &status,
		&exec.AgentCount, &errMsg, &started, &completed); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	exec.Status = ExecutionStatus(status)
	exec.Error = errMsg.String
	exec.StartedAt = time.UnixMilli(started)
	if completed.Valid {
		t := time.UnixMilli(completed.Int64)
		exec.CompletedAt = &t
	}
	return &exec, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
