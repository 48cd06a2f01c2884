// Package live propagates policy changes to running workflows without a
// restart.
//
// The Engine keeps one current version per policy_id. ApplyChange
// fingerprints the raw text with SHA-256 and ignores text it has already
// applied, so replaying the same change is a no-op. New text is translated,
// versioned (hint, else patch + 1, else 1.0.0) and pushed to every workflow
// subscribed to that policy.
//
// Change sources are drained by SyncOnce, either on demand or from the
// background loop started with Start:
//
//	eng, err := live.New(&live.Config{PollInterval: 2 * time.Second}, translator, logger)
//	if err != nil {
//	    return err
//	}
//	eng.AddSource(source.NewMemorySource())
//	if err := eng.RegisterWorkflow("billing", guardrailEngine); err != nil {
//	    return err
//	}
//	if err := eng.Start(ctx); err != nil {
//	    return err
//	}
//	defer eng.Stop()
package live
