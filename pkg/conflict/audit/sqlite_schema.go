package audit

// SchemaVersion is the current audit database schema version.
const SchemaVersion = 1

// Schema creates the conflict audit tables. Rows are only ever inserted.
const Schema = `
CREATE TABLE IF NOT EXISTS conflicts (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    conflict_id TEXT NOT NULL,
    detected_at TIMESTAMP NOT NULL,
    severity TEXT NOT NULL,
    severity_rank INTEGER NOT NULL,
    conflict_type TEXT NOT NULL,
    left_policy_id TEXT NOT NULL,
    right_policy_id TEXT NOT NULL,
    workflow_id TEXT,
    description TEXT NOT NULL,
    resolution_suggestions TEXT NOT NULL,
    evidence TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conflicts_detected_at ON conflicts(detected_at);
CREATE INDEX IF NOT EXISTS idx_conflicts_severity ON conflicts(severity);
CREATE INDEX IF NOT EXISTS idx_conflicts_workflow ON conflicts(workflow_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_conflict_id ON conflicts(conflict_id);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// InsertSchemaVersion records the schema version once.
const InsertSchemaVersion = `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`

// GetSchemaVersion returns the newest applied schema version.
const GetSchemaVersion = `SELECT MAX(version) FROM schema_version`
