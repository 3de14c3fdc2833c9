// Package security provides validation, sanitization, and limits for hookpipe.
//
// This package includes:
//   - Input validation for hook kinds, table names and payload sizes
//   - Error message sanitization before failures are persisted
//   - Clamping functions for retries, batch size and concurrency
//
// Most users should import the root package github.com/pepolabs/hookpipe
// which re-exports these functions.
package security
