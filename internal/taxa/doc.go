// Package taxa models the reference checklist: records, the closed rank and
// status priority lists, and the read-only Index the resolution stages query.
//
// The Index is an arena of Records addressed by offset. Accepted-chain fields
// (accepted taxon, its parent, and the accepted species) are resolved once at
// build time, so lookups never chase references. An Index is immutable after
// Build and safe to share between goroutines.
package taxa
