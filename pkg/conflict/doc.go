// Package conflict finds policies that cannot coexist.
//
// A Detector compares every pair of policies in the latest-version view of
// a repository, and of each workflow reported by a WorkflowProvider. A pair
// is contradictory when some shared parameter has conditions no value can
// satisfy together: two different exact values, an exact value and its
// explicit inequality, or numeric ranges that do not intersect. Otherwise
// the pair overlaps when some shared parameter can satisfy both conditions
// and the policies respond with different instructions or triggers.
//
// Findings are ranked safety_critical, legal_compliance, high, medium by the
// domains and compliance frameworks of the pair, appended to an in-memory
// audit log and mirrored to any configured Sink (see package audit).
//
// Scans run on demand with ScanOnce, on a fixed interval with Start, or on a
// cron schedule with a Scheduler.
package conflict
