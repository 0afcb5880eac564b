// Package logger wraps zerolog behind the component/field call shape used
// throughout this repository: every call site names the emitting component
// and passes a flat field map rather than chaining zerolog's builder.
package logger

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// SetLevel adjusts the global minimum log level (e.g. zerolog.DebugLevel).
func SetLevel(level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(level)
}

// DebugCF logs a debug-level event for component with the given fields.
func DebugCF(component, message string, fields map[string]any) {
	emit(zerolog.DebugLevel, component, message, fields)
}

// InfoCF logs an info-level event for component with the given fields.
func InfoCF(component, message string, fields map[string]any) {
	emit(zerolog.InfoLevel, component, message, fields)
}

// WarnCF logs a warn-level event for component with the given fields.
func WarnCF(component, message string, fields map[string]any) {
	emit(zerolog.WarnLevel, component, message, fields)
}

// ErrorCF logs an error-level event for component with the given fields.
// If fields contains an "error" key holding an error value, it is rendered
// through zerolog's Err() so stack-aware formatters can pick it up.
func ErrorCF(component, message string, fields map[string]any) {
	emit(zerolog.ErrorLevel, component, message, fields)
}

func emit(level zerolog.Level, component, message string, fields map[string]any) {
	mu.RLock()
	base := log
	mu.RUnlock()

	evt := base.WithLevel(level).Str("component", component)
	if err, ok := fields["error"].(error); ok {
		evt = evt.Err(err)
		rest := make(map[string]any, len(fields))
		for k, v := range fields {
			if k != "error" {
				rest[k] = v
			}
		}
		fields = rest
	}
	evt.Fields(fields).Msg(message)
}
