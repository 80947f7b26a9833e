// Package plog is the pipeline's logging seam. Its Logger interface is just
// Log and Named; the level gate is the minimum level given to New, applied
// by hclog. It is modelled on the teacher transfer engine's ILogger but
// delegates the actual sink to
// hclog rather than hand-rolling a rotating file writer, matching how the
// rest of the example pack reaches for a real structured-logging library
// instead of a bespoke one.
package plog

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// Level mirrors hclog's level set but keeps pipeline call sites from taking
// a direct hclog import.
type Level = hclog.Level

const (
	Trace = hclog.Trace
	Debug = hclog.Debug
	Info  = hclog.Info
	Warn  = hclog.Warn
	Error = hclog.Error
)

// Logger is the interface every pipeline component accepts. A nil Logger is
// never passed around internally; use Nop() for the zero-value default.
type Logger interface {
	Log(level Level, msg string, args ...any)
	Named(name string) Logger
}

type hclogLogger struct {
	l hclog.Logger
}

// New builds a Logger writing to os.Stderr at the given minimum level, named
// "imagepipeline" the way the teacher's job logger is named after the job id.
func New(level Level) Logger {
	return &hclogLogger{l: hclog.New(&hclog.LoggerOptions{
		Name:   "imagepipeline",
		Level:  level,
		Output: os.Stderr,
	})}
}

func (h *hclogLogger) Log(level Level, msg string, args ...any) {
	h.l.Log(level, msg, args...)
}

func (h *hclogLogger) Named(name string) Logger {
	return &hclogLogger{l: h.l.Named(name)}
}

type nopLogger struct{}

func (nopLogger) Log(Level, string, ...any) {}
func (n nopLogger) Named(string) Logger     { return n }

// Nop is the default Logger used when a pipeline.Config leaves Logger unset.
func Nop() Logger { return nopLogger{} }
