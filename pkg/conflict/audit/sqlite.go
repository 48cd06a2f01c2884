package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/covenant/pkg/conflict"
	"mercator-hq/covenant/pkg/policy"
)

// SQLiteConfig contains configuration for the SQLite audit sink.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections. Default: 4.
	MaxOpenConns int

	// WALMode enables write-ahead logging. Default: true.
	WALMode bool

	// BusyTimeout is how long to wait on a locked database. Default: 5s.
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite audit configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/conflicts.db",
		MaxOpenConns: 4,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// Query filters SQLiteSink.Query. Zero fields match everything.
type Query struct {
	Severity   conflict.Severity
	Type       conflict.Type
	WorkflowID string
	PolicyID   string
	Since      time.Time
	Until      time.Time

	// Limit caps the result to the newest entries. Default: 1000.
	Limit int
}

// Matches reports whether c satisfies every set field of q. Limit is ignored.
func (q Query) Matches(c *conflict.Conflict) bool {
	switch {
	case q.Severity != "" && c.Severity != q.Severity:
		return false
	case q.Type != "" && c.Type != q.Type:
		return false
	case q.WorkflowID != "" && c.WorkflowID != q.WorkflowID:
		return false
	case q.PolicyID != "" && c.PolicyIDs[0] != q.PolicyID && c.PolicyIDs[1] != q.PolicyID:
		return false
	case !q.Since.IsZero() && c.DetectedAt.Before(q.Since):
		return false
	case !q.Until.IsZero() && !c.DetectedAt.Before(q.Until):
		return false
	}
	return true
}

// Apply filters conflicts, which must be oldest first, the way Query does
// for the SQLite sink: the newest Limit matches, oldest first.
func (q Query) Apply(conflicts []*conflict.Conflict) []*conflict.Conflict {
	out := []*conflict.Conflict{}
	for _, c := range conflicts {
		if q.Matches(c) {
			out = append(out, c)
		}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// SQLiteSink stores conflicts in SQLite.
type SQLiteSink struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteSink opens the database and creates the schema.
func NewSQLiteSink(config *SQLiteConfig) (*SQLiteSink, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, policy.NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	s := &SQLiteSink{
		db:     db,
		config: config,
		logger: slog.Default().With("component", "conflict.audit.sqlite"),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("SQLite audit sink initialized", "path", config.Path, "wal_mode", config.WALMode)
	return s, nil
}

func (s *SQLiteSink) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return policy.NewStorageError("sqlite", "enable_wal", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return policy.NewStorageError("sqlite", "set_busy_timeout", err)
	}
	if _, err := s.db.Exec(Schema); err != nil {
		return policy.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return policy.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return policy.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return policy.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Append inserts the batch in one transaction.
func (s *SQLiteSink) Append(ctx context.Context, conflicts []*conflict.Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return policy.NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conflicts (
			conflict_id, detected_at, severity, severity_rank, conflict_type,
			left_policy_id, right_policy_id, workflow_id,
			description, resolution_suggestions, evidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return policy.NewStorageError("sqlite", "prepare", err)
	}
	defer stmt.Close()

	for _, c := range conflicts {
		suggestions, _ := json.Marshal(c.ResolutionSuggestions)
		evidence, _ := json.Marshal(c.Evidence)

		var workflow any
		if c.WorkflowID != "" {
			workflow = c.WorkflowID
		}

		_, err := stmt.ExecContext(ctx,
			c.ID, c.DetectedAt.UTC(), string(c.Severity), c.Severity.Rank(), string(c.Type),
			c.PolicyIDs[0], c.PolicyIDs[1], workflow,
			c.Description, string(suggestions), string(evidence),
		)
		if err != nil {
			return policy.NewStorageError("sqlite", "append", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return policy.NewStorageError("sqlite", "commit", err)
	}
	return nil
}

// Query returns the newest matching conflicts in insertion order.
func (s *SQLiteSink) Query(ctx context.Context, q Query) ([]*conflict.Conflict, error) {
	where, args := buildWhere(q)
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}

	sqlQuery := `
		SELECT conflict_id, detected_at, severity, conflict_type,
			left_policy_id, right_policy_id, workflow_id,
			description, resolution_suggestions, evidence
		FROM conflicts`
	if where != "" {
		sqlQuery += " WHERE " + where
	}
	sqlQuery += fmt.Sprintf(" ORDER BY seq DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, policy.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	out := []*conflict.Conflict{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, policy.NewStorageError("sqlite", "scan", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, policy.NewStorageError("sqlite", "query", err)
	}

	// Newest rows were selected; return them oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Count returns the number of matching conflicts.
func (s *SQLiteSink) Count(ctx context.Context, q Query) (int64, error) {
	where, args := buildWhere(q)
	sqlQuery := "SELECT COUNT(*) FROM conflicts"
	if where != "" {
		sqlQuery += " WHERE " + where
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&n); err != nil {
		return 0, policy.NewStorageError("sqlite", "count", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	if err := s.db.Close(); err != nil {
		return policy.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite audit sink closed")
	return nil
}

func buildWhere(q Query) (string, []any) {
	var clauses []string
	var args []any
	if q.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(q.Severity))
	}
	if q.Type != "" {
		clauses = append(clauses, "conflict_type = ?")
		args = append(args, string(q.Type))
	}
	if q.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, q.WorkflowID)
	}
	if q.PolicyID != "" {
		clauses = append(clauses, "(left_policy_id = ? OR right_policy_id = ?)")
		args = append(args, q.PolicyID, q.PolicyID)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "detected_at >= ?")
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "detected_at < ?")
		args = append(args, q.Until.UTC())
	}
	return strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConflict(row rowScanner) (*conflict.Conflict, error) {
	var (
		c                     conflict.Conflict
		severity, ctype       string
		left, right           string
		workflow              sql.NullString
		suggestions, evidence string
	)
	err := row.Scan(&c.ID, &c.DetectedAt, &severity, &ctype, &left, &right, &workflow,
		&c.Description, &suggestions, &evidence)
	if err != nil {
		return nil, err
	}
	c.Severity = conflict.Severity(severity)
	c.Type = conflict.Type(ctype)
	c.PolicyIDs = [2]string{left, right}
	c.WorkflowID = workflow.String
	c.DetectedAt = c.DetectedAt.UTC()
	if err := json.Unmarshal([]byte(suggestions), &c.ResolutionSuggestions); err != nil {
		return nil, fmt.Errorf("decode resolution_suggestions: %w", err)
	}
	if err := json.Unmarshal([]byte(evidence), &c.Evidence); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	return &c, nil
}
