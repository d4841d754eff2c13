package log

// Logger is the structured logging interface used across the protocol core.
// keysAndValues are treated as key-value pairs (e.g., "requestId", id).
type Logger interface {
	// Debug logs a message at debug level.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at info level.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at warn level.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at error level.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at fatal level and terminates the program.
	Fatal(msg string, keysAndValues ...any)
	// With returns a new logger carrying the given key-value pair on every entry.
	With(key string, value any) Logger
	// NewSystem returns a new named logger for a subsystem.
	NewSystem(name string) Logger
}

// Level represents the severity level of a log message.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)
