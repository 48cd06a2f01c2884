package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/covenant/pkg/policy"
)

const backendSQLite = "sqlite"

// SQLiteConfig configures the SQLite repository.
type SQLiteConfig struct {
	// Path is the database file. Parent directories are created.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLite is a durable Repository backed by a single SQLite file.
//
// Each saved version is one row; the policy body is stored as JSON next to
// the indexed classification columns ListPolicies filters on.
type SQLite struct {
	db        *sql.DB
	path      string
	mu        sync.RWMutex
	closeOnce sync.Once
	closed    bool
	now       func() time.Time

	insertStmt  *sql.Stmt
	latestStmt  *sql.Stmt
	versionStmt *sql.Stmt
	historyStmt *sql.Stmt
}

// NewSQLite opens or creates the repository at cfg.Path.
func NewSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, policy.NewStorageError(backendSQLite, "open", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, policy.NewStorageError(backendSQLite, "open", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db, path: cfg.Path, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, policy.NewStorageError(backendSQLite, "init schema", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, policy.NewStorageError(backendSQLite, "prepare statements", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL UNIQUE,
		policy_id TEXT NOT NULL,
		version TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		industry TEXT NOT NULL DEFAULT '',
		compliance_type TEXT NOT NULL DEFAULT '',
		functional_area TEXT NOT NULL DEFAULT '',
		is_template INTEGER NOT NULL DEFAULT 0,
		template_id TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policies_policy_id ON policies(policy_id, seq);
	CREATE INDEX IF NOT EXISTS idx_policies_domain ON policies(domain);
	CREATE INDEX IF NOT EXISTS idx_policies_industry ON policies(industry);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO policies (record_id, policy_id, version, title, domain, industry,
			compliance_type, functional_area, is_template, template_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}

	s.latestStmt, err = s.db.Prepare(`
		SELECT body FROM policies WHERE policy_id = ? ORDER BY seq DESC LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("prepare latest: %w", err)
	}

	s.versionStmt, err = s.db.Prepare(`
		SELECT body FROM policies WHERE policy_id = ? AND version = ? ORDER BY seq DESC LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("prepare version: %w", err)
	}

	s.historyStmt, err = s.db.Prepare(`
		SELECT record_id, policy_id, version, created_at FROM policies WHERE policy_id = ? ORDER BY seq ASC
	`)
	if err != nil {
		return fmt.Errorf("prepare history: %w", err)
	}
	return nil
}

// SavePolicy stores p as a new row.
func (s *SQLite) SavePolicy(ctx context.Context, p *policy.Policy) (string, error) {
	cp, err := prepare("save policy", p)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.insert(ctx, cp)
}

func (s *SQLite) insert(ctx context.Context, p *policy.Policy) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", policy.NewStorageError(backendSQLite, "save", fmt.Errorf("marshal policy: %w", err))
	}
	id := uuid.NewString()
	_, err = s.insertStmt.ExecContext(ctx,
		id, p.ID, p.Version, p.Title, string(p.Domain), p.Industry,
		p.ComplianceFramework, p.FunctionalArea, boolToInt(p.IsTemplate), p.TemplateID,
		string(body), s.now().UnixNano(),
	)
	if err != nil {
		return "", policy.NewStorageError(backendSQLite, "save", err)
	}
	return id, nil
}

// GetPolicy returns the requested version.
func (s *SQLite) GetPolicy(ctx context.Context, policyID, version string) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.get(ctx, policyID, version)
}

func (s *SQLite) get(ctx context.Context, policyID, version string) (*policy.Policy, error) {
	var row *sql.Row
	if version == "" {
		row = s.latestStmt.QueryRowContext(ctx, policyID)
	} else {
		row = s.versionStmt.QueryRowContext(ctx, policyID, version)
	}

	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(policyID, version)
		}
		return nil, policy.NewStorageError(backendSQLite, "get", err)
	}
	return decodeBody(body)
}

// ListPolicies returns every stored version matching filter in save order.
func (s *SQLite) ListPolicies(ctx context.Context, filter policy.Filter) ([]*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	where, args := buildFilter(filter)
	rows, err := s.db.QueryContext(ctx, "SELECT body FROM policies"+where+" ORDER BY seq ASC", args...)
	if err != nil {
		return nil, policy.NewStorageError(backendSQLite, "list", err)
	}
	defer rows.Close()

	var out []*policy.Policy
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, policy.NewStorageError(backendSQLite, "list", err)
		}
		p, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, policy.NewStorageError(backendSQLite, "list", err)
	}
	return out, nil
}

func buildFilter(f policy.Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(column string, value any) {
		clauses = append(clauses, column+" = ?")
		args = append(args, value)
	}
	if f.Industry != "" {
		add("industry", f.Industry)
	}
	if f.ComplianceFramework != "" {
		add("compliance_type", f.ComplianceFramework)
	}
	if f.FunctionalArea != "" {
		add("functional_area", f.FunctionalArea)
	}
	if f.Domain != "" {
		add("domain", string(f.Domain))
	}
	if f.IsTemplate != nil {
		add("is_template", boolToInt(*f.IsTemplate))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// CloneTemplate copies the latest version of templateID into newPolicyID.
func (s *SQLite) CloneTemplate(ctx context.Context, templateID, newPolicyID string, overrides policy.TemplateOverrides) (*policy.Policy, error) {
	if err := checkCloneArgs(templateID, newPolicyID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	tmpl, err := s.get(ctx, templateID, "")
	if err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			return nil, fmt.Errorf("%w: %s", policy.ErrTemplateNotFound, templateID)
		}
		return nil, err
	}
	cp := cloneFrom(tmpl, newPolicyID, overrides)
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.insert(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// VersionHistory returns the versions of policyID oldest first.
func (s *SQLite) VersionHistory(ctx context.Context, policyID string) ([]policy.VersionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.historyStmt.QueryContext(ctx, policyID)
	if err != nil {
		return nil, policy.NewStorageError(backendSQLite, "history", err)
	}
	defer rows.Close()

	out := []policy.VersionEntry{}
	for rows.Next() {
		var e policy.VersionEntry
		var created int64
		if err := rows.Scan(&e.RecordID, &e.PolicyID, &e.Version, &created); err != nil {
			return nil, policy.NewStorageError(backendSQLite, "history", err)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, policy.NewStorageError(backendSQLite, "history", err)
	}
	return out, nil
}

// Close closes the prepared statements and the database.
func (s *SQLite) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true

		for _, stmt := range []*sql.Stmt{s.insertStmt, s.latestStmt, s.versionStmt, s.historyStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}

// Ping checks that the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.db.PingContext(ctx); err != nil {
		return policy.NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// String returns the backend name and path.
func (s *SQLite) String() string { return "sqlite:" + s.path }

func decodeBody(body string) (*policy.Policy, error) {
	var p policy.Policy
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, policy.NewStorageError(backendSQLite, "decode", err)
	}
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
