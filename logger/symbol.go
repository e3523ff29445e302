package logger

import "go.uber.org/zap"

// Symbol-tagged logging helpers. These log with a symbol as a structured
// field rather than embedding it in the message, so logs stay queryable by
// subsystem without string-matching messages.
//
// Usage:
//
//	logger.CronInfow("job fired", "jobId", id)
const (
	SymbolCron      = "⏰" // cron/heartbeat scheduler
	SymbolAsyncExec = "꧜" // async-exec completion pipeline
	SymbolTransfer  = "⇄" // binary transfer state machine
	SymbolOpen      = "✿" // lifecycle: opened/started
	SymbolClose     = "❀" // lifecycle: closed/stopped
	SymbolDB        = "⊔" // storage/persistence operations
)

// AddDBSymbol returns a logger with the storage symbol attached, for
// call sites (db/) that tag every log line they
// emit rather than calling a DBInfow-style helper per level.
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return Logger.With(FieldSymbol, SymbolDB)
	}
	return l.With(FieldSymbol, SymbolDB)
}

// CronInfow logs an info message tagged with the cron symbol.
func CronInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, append([]interface{}{FieldSymbol, SymbolCron}, keysAndValues...)...)
	}
}

// CronErrorw logs an error message tagged with the cron symbol.
func CronErrorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Errorw(msg, append([]interface{}{FieldSymbol, SymbolCron}, keysAndValues...)...)
	}
}

// AsyncExecInfow logs an info message tagged with the async-exec symbol.
func AsyncExecInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, append([]interface{}{FieldSymbol, SymbolAsyncExec}, keysAndValues...)...)
	}
}

// AsyncExecWarnw logs a warning message tagged with the async-exec symbol.
func AsyncExecWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, append([]interface{}{FieldSymbol, SymbolAsyncExec}, keysAndValues...)...)
	}
}

// TransferInfow logs an info message tagged with the transfer symbol.
func TransferInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, append([]interface{}{FieldSymbol, SymbolTransfer}, keysAndValues...)...)
	}
}

// OpenInfow logs a startup/connect message tagged with the open symbol.
func OpenInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, append([]interface{}{FieldSymbol, SymbolOpen}, keysAndValues...)...)
	}
}

// CloseInfow logs a shutdown/disconnect message tagged with the close symbol.
func CloseInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, append([]interface{}{FieldSymbol, SymbolClose}, keysAndValues...)...)
	}
}

// WithSymbol returns a logger with the given symbol attached as a field,
// for ad-hoc symbol usage not covered by the helpers above.
func WithSymbol(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}
