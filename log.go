/*
Package rincewind – logging interface.

Loggers are injected per Dao or Registry. A Dao without a logger is silent.
*/
package rincewind

import (
	"encoding/json"
	"fmt"
	"log"
)

// Logger is the interface callers may supply to a Dao.
// Each method receives a structured context map (may be nil).
type Logger interface {
	Debug(message string, ctx map[string]any)
	Info(message string, ctx map[string]any)
	Warning(message string, ctx map[string]any)
	Error(message string, ctx map[string]any)
	// Fatal logs at fatal severity. It never terminates the process.
	Fatal(message string, ctx map[string]any)
}

// StdLogger writes warnings and worse to the standard library logger and
// silently drops debug/info.
type StdLogger struct{}

func (StdLogger) Debug(string, map[string]any) {}
func (StdLogger) Info(string, map[string]any)  {}

func (StdLogger) Warning(msg string, ctx map[string]any) { logLine("WARNING", msg, ctx) }
func (StdLogger) Error(msg string, ctx map[string]any)   { logLine("ERROR", msg, ctx) }
func (StdLogger) Fatal(msg string, ctx map[string]any)   { logLine("FATAL", msg, ctx) }

func logLine(level, msg string, ctx map[string]any) {
	if ctx == nil {
		log.Printf("[%s] %s", level, msg)
		return
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		log.Printf("[%s] %s %v", level, msg, ctx)
		return
	}
	log.Printf("[%s] %s %s", level, msg, b)
}

// VerboseLogger additionally prints debug / info lines.
type VerboseLogger struct{}

func (VerboseLogger) Debug(msg string, ctx map[string]any)   { logLine("DEBUG", msg, ctx) }
func (VerboseLogger) Info(msg string, ctx map[string]any)    { logLine("INFO", msg, ctx) }
func (VerboseLogger) Warning(msg string, ctx map[string]any) { logLine("WARNING", msg, ctx) }
func (VerboseLogger) Error(msg string, ctx map[string]any)   { logLine("ERROR", msg, ctx) }
func (VerboseLogger) Fatal(msg string, ctx map[string]any)   { logLine("FATAL", msg, ctx) }

// FuncLogger wraps a plain function: func(level, message string, ctx map[string]any).
type FuncLogger struct {
	Fn func(level, message string, ctx map[string]any)
}

func (f FuncLogger) Debug(msg string, ctx map[string]any)   { f.Fn("debug", msg, ctx) }
func (f FuncLogger) Info(msg string, ctx map[string]any)    { f.Fn("info", msg, ctx) }
func (f FuncLogger) Warning(msg string, ctx map[string]any) { f.Fn("warning", msg, ctx) }
func (f FuncLogger) Error(msg string, ctx map[string]any)   { f.Fn("error", msg, ctx) }
func (f FuncLogger) Fatal(msg string, ctx map[string]any)   { f.Fn("fatal", msg, ctx) }

// NopLogger silently discards everything. It is the default.
type NopLogger struct{}

func (NopLogger) Debug(string, map[string]any)   {}
func (NopLogger) Info(string, map[string]any)    {}
func (NopLogger) Warning(string, map[string]any) {}
func (NopLogger) Error(string, map[string]any)   {}
func (NopLogger) Fatal(string, map[string]any)   {}

// fmtCtx is a quick key=value string for simple debug prints.
func fmtCtx(ctx map[string]any) string {
	b, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Sprintf("%v", ctx)
	}
	return string(b)
}
