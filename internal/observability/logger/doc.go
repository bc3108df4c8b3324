// Package logger provides the zap-based logging facade used across the
// server: a process-wide singleton, context propagation for request-scoped
// loggers, and typed field helpers so call sites never hand-write key names.
package logger
