// Package handler provides internal reflection-based handler execution.
//
// This package is internal and should not be imported directly.
// It provides:
//   - Handler: metadata and execution for registered hook handlers
//   - Payload decoding with optional validation
//   - Encoding of handler results into response blobs
package handler
