// Package monitoring holds the process-wide log streams used by the
// acquisition pipeline.
//
// There are three streams: ops (actionable warnings, errors, lifecycle
// events), diag (per-cycle diagnostics) and trace (per-record telemetry).
// A nil writer disables its stream.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   = newLogger(os.Stderr)
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger(w.Ops)
	diagLogger = newLogger(w.Diag)
	traceLogger = newLogger(w.Trace)
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[depthrig] ", log.LstdFlags|log.Lmicroseconds)
}

func printf(l *log.Logger, format string, args ...interface{}) {
	if l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	printf(l, format, args...)
}

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	printf(l, format, args...)
}

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) {
	mu.RLock()
	l := traceLogger
	mu.RUnlock()
	printf(l, format, args...)
}

// MigrateLogger adapts the ops stream to the golang-migrate Logger interface.
type MigrateLogger struct{}

func (MigrateLogger) Printf(format string, v ...interface{}) {
	Opsf("[migrate] "+format, v...)
}

func (MigrateLogger) Verbose() bool {
	return false
}
