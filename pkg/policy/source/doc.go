// Package source provides policy.ChangeSource implementations for the live
// update engine.
//
// MemorySource is an in-process queue. FileSource watches a directory with
// fsnotify and reports each policy file once per modification. GitSource
// tracks a branch of a git repository and reports the files changed by each
// pull. RedisSource pops JSON-encoded changes from a Redis list so that other
// processes can publish updates.
//
// Every source returns a change at most once. Empty results mean nothing is
// pending.
package source
