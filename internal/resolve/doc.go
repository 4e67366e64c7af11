// Package resolve turns raw name submissions into checklist resolutions.
//
// A run moves every distinct submission key through the stages selected by
// the match level: manual overrides, direct lookups against the checklist
// index, the external match service, and word-prefix auto-resolution. A
// stage only sees keys that are still pending and may resolve any subset of
// them. When a lookup yields several records the Disambiguator picks one or
// leaves the key pending and reports the candidate set to the diagnostic
// Sink. Keys still pending after the last stage become unresolved.
//
// Keys whose external batch failed with a retryable error become
// pending_retry instead; Resume re-runs the external and auto-resolution
// stages for exactly those keys.
package resolve
