// Package names turns raw scientific-name submissions into the matching keys
// used by the resolution stages.
//
// Normalize produces a Keys value holding the trimmed, recapitalized and
// lower-cased forms of a submission. The remaining helpers cover the string
// handling the stages share: author-abbreviation tidying, word-prefix
// expansion, genus extraction, IPNI identifier cleaning and script checks.
package names
