package log

var _ Logger = (*NoopLogger)(nil)

// NoopLogger is a Logger that discards everything. Useful as a default
// and in tests where log output is noise.
type NoopLogger struct{}

// NewNoopLogger returns a new NoopLogger.
func NewNoopLogger() Logger { return &NoopLogger{} }

func (l *NoopLogger) Debug(string, ...any) {}
func (l *NoopLogger) Info(string, ...any)  {}
func (l *NoopLogger) Warn(string, ...any)  {}
func (l *NoopLogger) Error(string, ...any) {}
func (l *NoopLogger) Fatal(string, ...any) {}

func (l *NoopLogger) With(string, any) Logger    { return l }
func (l *NoopLogger) NewSystem(string) Logger    { return l }
