// Package logging provides a minimal logging interface and adapters for the
// review pipeline.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the pipeline, indexes and HTTP server use. This package
// includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter and RAGLogger built on log/slog
//   - ZapAdapter and a lumberjack-backed rotating zap logger
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	chain := rag.NewChain(m, idx, func(o *rag.ChainOptions) { o.Logger = logger })
package logging
