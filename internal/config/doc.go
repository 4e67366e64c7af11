// Package config loads, normalizes, and validates taxonmatch configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TAXONMATCH_CHECKLIST and TAXONMATCH_KNMS_URL. Validation failures carry the
// services.ErrConfiguration marker so callers can treat them as fatal.
package config
