package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"threatgate/core"
	"threatgate/detect"
	"threatgate/report"
)

// DefaultListLimit is used by ListRuns when no limit is given.
const DefaultListLimit = 20

// timestampLayout keeps a fixed width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// RunRecord is one recorded run over one threat model.
type RunRecord struct {
	RunID        string          `json:"runId"`
	ModelName    string          `json:"modelName"`
	ModelVersion string          `json:"modelVersion,omitempty"`
	GeneratedAt  time.Time       `json:"generatedAt"`
	Threshold    core.ThreatRisk `json:"threshold"`
	Passed       bool            `json:"passed"`
	Total        int             `json:"total"`
	NonCompliant int             `json:"nonCompliant"`
}

// ThreatRecord is one threat of a recorded run.
type ThreatRecord struct {
	ThreatID     string                `json:"threatId"`
	RuleID       string                `json:"ruleId"`
	ElementID    string                `json:"elementId"`
	Title        string                `json:"title"`
	Risk         core.ThreatRisk       `json:"risk"`
	Status       core.MitigationStatus `json:"status"`
	NonCompliant bool                  `json:"nonCompliant"`
}

// History stores run summaries in SQLite so gate outcomes can be compared
// across runs.
type History struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger *zap.SugaredLogger
}

// NewHistory opens (creating if needed) the history database at dbPath and
// applies pending migrations. Use MemoryPath for a throwaway database.
func NewHistory(dbPath string, logger *zap.SugaredLogger) (*History, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	db, err := openSQLite(dbPath, logger)
	if err != nil {
		return nil, err
	}

	runner, err := NewMigrationRunner(db, logger, historyMigrations...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runner.Run(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return &History{db: db, path: dbPath, logger: logger}, nil
}

// RecordRun stores the run summary and its threats in one transaction.
func (h *History) RecordRun(ctx context.Context, header report.Header, threats []core.Threat, gate detect.GateResult) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.db == nil {
		return ErrHistoryClosed
	}

	nonCompliant := make(map[string]bool, len(gate.NonCompliant))
	for _, id := range gate.NonCompliant {
		nonCompliant[id] = true
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, model_name, model_version, generated_at, threshold, passed, total, non_compliant)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		header.RunID, header.ModelName, header.ModelVersion,
		header.GeneratedAt.UTC().Format(timestampLayout),
		gate.Threshold.String(), gate.Passed, len(threats), len(gate.NonCompliant))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", header.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_threats (run_id, position, threat_id, rule_id, element_id, title, risk, status, non_compliant)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare threat insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range threats {
		if _, err := stmt.ExecContext(ctx, header.RunID, i, t.ID, t.RuleID, t.ElementID, t.Title,
			t.Risk.String(), t.MitigationStatus.String(), nonCompliant[t.ID]); err != nil {
			return fmt.Errorf("failed to insert threat %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", header.RunID, err)
	}
	h.logger.Debugw("Recorded run", "run_id", header.RunID, "model", header.ModelName, "threats", len(threats))
	return nil
}

// ListRuns returns the most recent runs first. An empty modelName lists
// runs of every model.
func (h *History) ListRuns(ctx context.Context, modelName string, limit int) ([]RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.db == nil {
		return nil, ErrHistoryClosed
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT run_id, model_name, model_version, generated_at, threshold, passed, total, non_compliant FROM runs`
	args := []interface{}{}
	if modelName != "" {
		query += ` WHERE model_name = ?`
		args = append(args, modelName)
	}
	query += ` ORDER BY generated_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run by id.
func (h *History) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.db == nil {
		return nil, ErrHistoryClosed
	}

	row := h.db.QueryRowContext(ctx, `
		SELECT run_id, model_name, model_version, generated_at, threshold, passed, total, non_compliant
		FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// RunThreats returns the threats of a run in generation order.
func (h *History) RunThreats(ctx context.Context, runID string) ([]ThreatRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.db == nil {
		return nil, ErrHistoryClosed
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT threat_id, rule_id, element_id, title, risk, status, non_compliant
		FROM run_threats WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query threats of run %s: %w", runID, err)
	}
	defer rows.Close()

	var threats []ThreatRecord
	for rows.Next() {
		var (
			rec    ThreatRecord
			risk   string
			status string
		)
		if err := rows.Scan(&rec.ThreatID, &rec.RuleID, &rec.ElementID, &rec.Title, &risk, &status, &rec.NonCompliant); err != nil {
			return nil, fmt.Errorf("failed to scan threat: %w", err)
		}
		if rec.Risk, err = core.ParseThreatRisk(risk); err != nil {
			return nil, err
		}
		if rec.Status, err = core.ParseMitigationStatus(status); err != nil {
			return nil, err
		}
		threats = append(threats, rec)
	}
	return threats, rows.Err()
}

// Path returns the database path.
func (h *History) Path() string {
	return h.path
}

// Close closes the database. Further calls return ErrHistoryClosed.
func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		run         RunRecord
		generatedAt string
		threshold   string
	)
	if err := row.Scan(&run.RunID, &run.ModelName, &run.ModelVersion, &generatedAt, &threshold,
		&run.Passed, &run.Total, &run.NonCompliant); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("failed to scan run: %w", err)
	}

	var err error
	if run.GeneratedAt, err = time.Parse(timestampLayout, generatedAt); err != nil {
		return run, fmt.Errorf("invalid timestamp for run %s: %w", run.RunID, err)
	}
	if run.Threshold, err = core.ParseThreatRisk(threshold); err != nil {
		return run, err
	}
	return run, nil
}
