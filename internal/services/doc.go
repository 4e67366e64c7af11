// Package services defines shared utilities consumed by the resolution stages
// and the external match client.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that separate fatal
//     configuration and invariant failures from retryable service failures.
//
// Use these helpers when wiring new stage logic so error classification stays
// uniform across the pipeline.
package services
