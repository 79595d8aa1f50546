// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - the shared append-only activity log sink (FileSink),
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, WarnKV, etc.).
//
// All services accept a context and extract the logger from it, enabling
// scoped, structured logging throughout the codebase.
package logger
