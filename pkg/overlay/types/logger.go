package types

// Logger is the logging contract every component depends on. It mirrors
// the teacher's definition.Logger split between leveled and formatted
// variants, plus a debug toggle and a structured field attacher so
// components can tag their lines (node address, component name) without
// every call site formatting a prefix by hand.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})

	// ToggleDebug enables or disables Debug/Debugf output, returning the
	// new state.
	ToggleDebug(value bool) bool

	// WithField returns a derived Logger that attaches key=value to every
	// line it emits, leaving the receiver untouched.
	WithField(key string, value interface{}) Logger
}
