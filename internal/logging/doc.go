// Package logging builds the slog loggers used across taxonmatch.
//
// Stderr gets a console or JSON rendering; the optional log file always gets
// JSON lines. WithContext tags records with the run id, stage and KNMS request
// id carried on a context.
package logging
