package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for rule persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Rule CRUD
	GetByID(ctx context.Context, id string) (*Rule, error)
	GetBySlug(ctx context.Context, slug string) (*Rule, error)
	List(ctx context.Context) ([]Rule, error)
	ListEnabled(ctx context.Context) ([]Rule, error)
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id string) error

	// Execution logging
	CreateExecution(ctx context.Context, exec *RuleExecution) error
	UpdateExecution(ctx context.Context, exec *RuleExecution) error
	GetExecution(ctx context.Context, id string) (*RuleExecution, error)
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]RuleExecution, error)
}

// ruleColumns is the SELECT column list for rule queries.
const ruleColumns = `id, name, slug, description, enabled, trigger,
			actions, sort_order, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a rule by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying rule by id: %w", err)
	}
	return rule, nil
}

// GetBySlug retrieves a rule by its slug.
func (r *SQLiteRepository) GetBySlug(ctx context.Context, slug string) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE slug = ?`

	row := r.db.QueryRowContext(ctx, query, slug)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying rule by slug: %w", err)
	}
	return rule, nil
}

// List retrieves all rules ordered by sort_order then name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY sort_order, name`
	return r.queryRules(ctx, query)
}

// ListEnabled retrieves all enabled rules ordered by sort_order then name.
func (r *SQLiteRepository) ListEnabled(ctx context.Context) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE enabled = 1 ORDER BY sort_order, name`
	return r.queryRules(ctx, query)
}

// Create inserts a new rule.
func (r *SQLiteRepository) Create(ctx context.Context, rule *Rule) error {
	triggerJSON, err := json.Marshal(rule.Trigger)
	if err != nil {
		return fmt.Errorf("marshalling trigger: %w", err)
	}
	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("marshalling actions: %w", err)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO rules (
			id, name, slug, description, enabled, trigger,
			actions, sort_order, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Slug,
		nullableString(rule.Description),
		boolToInt(rule.Enabled),
		string(triggerJSON),
		string(actionsJSON),
		rule.SortOrder,
		rule.CreatedAt.Format(time.RFC3339),
		rule.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// Update modifies an existing rule.
func (r *SQLiteRepository) Update(ctx context.Context, rule *Rule) error {
	triggerJSON, err := json.Marshal(rule.Trigger)
	if err != nil {
		return fmt.Errorf("marshalling trigger: %w", err)
	}
	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("marshalling actions: %w", err)
	}

	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE rules SET
			name = ?, slug = ?, description = ?, enabled = ?,
			trigger = ?, actions = ?, sort_order = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		rule.Name,
		rule.Slug,
		nullableString(rule.Description),
		boolToInt(rule.Enabled),
		string(triggerJSON),
		string(actionsJSON),
		rule.SortOrder,
		rule.UpdatedAt.Format(time.RFC3339),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Delete removes a rule by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// CreateExecution inserts a new execution record.
func (r *SQLiteRepository) CreateExecution(ctx context.Context, exec *RuleExecution) error {
	failuresJSON, err := marshalFailures(exec.Failures)
	if err != nil {
		return fmt.Errorf("marshalling failures: %w", err)
	}

	query := `
		INSERT INTO rule_executions (
			id, rule_id, fired_at, started_at, completed_at,
			trigger_type, status,
			actions_total, actions_completed, actions_failed, actions_skipped,
			failures, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		exec.ID,
		exec.RuleID,
		exec.FiredAt.Format(time.RFC3339),
		nullableTime(exec.StartedAt),
		nullableTime(exec.CompletedAt),
		exec.TriggerType,
		string(exec.Status),
		exec.ActionsTotal,
		exec.ActionsCompleted,
		exec.ActionsFailed,
		exec.ActionsSkipped,
		failuresJSON,
		exec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// UpdateExecution updates an existing execution record.
func (r *SQLiteRepository) UpdateExecution(ctx context.Context, exec *RuleExecution) error {
	failuresJSON, err := marshalFailures(exec.Failures)
	if err != nil {
		return fmt.Errorf("marshalling failures: %w", err)
	}

	query := `
		UPDATE rule_executions SET
			started_at = ?, completed_at = ?, status = ?,
			actions_total = ?, actions_completed = ?, actions_failed = ?, actions_skipped = ?,
			failures = ?, duration_ms = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		nullableTime(exec.StartedAt),
		nullableTime(exec.CompletedAt),
		string(exec.Status),
		exec.ActionsTotal,
		exec.ActionsCompleted,
		exec.ActionsFailed,
		exec.ActionsSkipped,
		failuresJSON,
		exec.DurationMS,
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (r *SQLiteRepository) GetExecution(ctx context.Context, id string) (*RuleExecution, error) {
	query := `
		SELECT id, rule_id, fired_at, started_at, completed_at,
			trigger_type, status,
			actions_total, actions_completed, actions_failed, actions_skipped,
			failures, duration_ms
		FROM rule_executions
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return exec, nil
}

// ListExecutions retrieves recent executions for a rule.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, ruleID string, limit int) ([]RuleExecution, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT id, rule_id, fired_at, started_at, completed_at,
			trigger_type, status,
			actions_total, actions_completed, actions_failed, actions_skipped,
			failures, duration_ms
		FROM rule_executions
		WHERE rule_id = ?
		ORDER BY fired_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []RuleExecution
	for rows.Next() {
		exec, scanErr := scanExecutionFromRows(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning execution: %w", scanErr)
		}
		executions = append(executions, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return executions, nil
}

// queryRules executes a query and returns a slice of rules.
func (r *SQLiteRepository) queryRules(ctx context.Context, query string, args ...any) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var ruleList []Rule
	for rows.Next() {
		rule, scanErr := scanRuleFromRows(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning rule: %w", scanErr)
		}
		ruleList = append(ruleList, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return ruleList, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRule scans a single sql.Row into a Rule.
func scanRule(row *sql.Row) (*Rule, error) {
	return scanRuleRow(row)
}

// scanRuleFromRows scans a sql.Rows result into a Rule.
func scanRuleFromRows(rows *sql.Rows) (*Rule, error) {
	return scanRuleRow(rows)
}

func scanRuleRow(scanner rowScanner) (*Rule, error) {
	var r Rule
	var description sql.NullString
	var triggerJSON, actionsJSON string
	var enabled int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&r.ID,
		&r.Name,
		&r.Slug,
		&description,
		&enabled,
		&triggerJSON,
		&actionsJSON,
		&r.SortOrder,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		r.Description = &description.String
	}
	r.Enabled = enabled != 0

	// Parse timestamps (stored as RFC3339 by SQLite default expressions)
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		r.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		r.UpdatedAt = t
	}

	// Unmarshal trigger JSON
	if triggerJSON != "" {
		if jsonErr := json.Unmarshal([]byte(triggerJSON), &r.Trigger); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling trigger: %w", jsonErr)
		}
	}

	// Unmarshal actions JSON
	if actionsJSON != "" && actionsJSON != "[]" {
		if jsonErr := json.Unmarshal([]byte(actionsJSON), &r.Actions); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling actions: %w", jsonErr)
		}
	}
	if r.Actions == nil {
		r.Actions = []Action{}
	}

	return &r, nil
}

// scanExecution scans a single sql.Row into a RuleExecution.
func scanExecution(row *sql.Row) (*RuleExecution, error) {
	return scanExecutionRow(row)
}

// scanExecutionFromRows scans a sql.Rows result into a RuleExecution.
func scanExecutionFromRows(rows *sql.Rows) (*RuleExecution, error) {
	return scanExecutionRow(rows)
}

func scanExecutionRow(scanner rowScanner) (*RuleExecution, error) {
	var e RuleExecution
	var firedAt string
	var startedAt, completedAt, failuresJSON sql.NullString
	var durationMS sql.NullInt64
	var status string

	err := scanner.Scan(
		&e.ID,
		&e.RuleID,
		&firedAt,
		&startedAt,
		&completedAt,
		&e.TriggerType,
		&status,
		&e.ActionsTotal,
		&e.ActionsCompleted,
		&e.ActionsFailed,
		&e.ActionsSkipped,
		&failuresJSON,
		&durationMS,
	)
	if err != nil {
		return nil, err
	}

	e.Status = ExecutionStatus(status)
	if t, parseErr := time.Parse(time.RFC3339, firedAt); parseErr == nil {
		e.FiredAt = t
	}

	if startedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, startedAt.String); parseErr == nil {
			e.StartedAt = &t
		}
	}
	if completedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, completedAt.String); parseErr == nil {
			e.CompletedAt = &t
		}
	}
	if durationMS.Valid {
		d := int(durationMS.Int64)
		e.DurationMS = &d
	}

	// Unmarshal failures JSON
	if failuresJSON.Valid && failuresJSON.String != "" && failuresJSON.String != "null" {
		if jsonErr := json.Unmarshal([]byte(failuresJSON.String), &e.Failures); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling failures: %w", jsonErr)
		}
	}

	return &e, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalFailures(failures []ActionFailure) (sql.NullString, error) {
	if len(failures) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// isUniqueConstraintError detects SQLite unique constraint violations.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
