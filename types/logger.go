// Package types defines core interfaces shared across the calcmcp library.
package types

// Logger is the printf-style logging interface used throughout the library.
// Implementations decide which levels are emitted; see the logx package for
// the standard implementation.
type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}
