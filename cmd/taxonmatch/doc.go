// Package main hosts the taxonmatch CLI entrypoint and command graph.
//
// The Cobra command tree loads configuration, builds the checklist index and
// the match service client, and hands tables of submitted names to the
// resolver. Output tables go to stdout or a file; logs and run summaries go to
// stderr so the two can be piped separately.
//
// Keep this package lean: matching behaviour lives in internal/resolve and
// its collaborators, and commands here only wire them together.
package main
