// Package audit persists conflict findings and exports them.
//
// FileSink appends one JSON object per line to a file opened with O_APPEND;
// keys are sorted, enums are strings and timestamps are RFC 3339 UTC.
// Lines are never rewritten. SQLiteSink stores the same records in a SQLite
// table that can be queried by severity, workflow and time.
//
// Both sinks implement conflict.Sink. Exported records can be written as a
// JSON array or CSV with NewExporter.
package audit
