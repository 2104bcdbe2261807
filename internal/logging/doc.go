// Package logging provides file-based structured logging with rotation
// for Fathom. Logs are written as JSON to ~/.fathom/logs/ and optionally
// mirrored to stderr.
package logging
