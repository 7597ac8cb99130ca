// Package definition provides the concrete types.Logger implementations
// used across the overlay, mirroring the teacher's definition package
// (which held only a DefaultLogger backed by the stdlib log package).
package definition

import (
	"fmt"
	"log"
	"os"

	"github.com/filemesh/filemesh/pkg/overlay/types"
)

const calldepth = 2

// NewDefaultLogger builds a stdlib log.Logger-backed Logger. Kept as the
// teacher's own fallback implementation, useful for tests that don't want
// logrus's structured formatting noise.
func NewDefaultLogger() types.Logger {
	return &defaultLogger{
		Logger: log.New(os.Stderr, "", log.LstdFlags),
		fields: map[string]interface{}{},
	}
}

type defaultLogger struct {
	*log.Logger
	debug  bool
	fields map[string]interface{}
}

func (l *defaultLogger) prefixed(level, message string) string {
	suffix := ""
	for k, v := range l.fields {
		suffix += fmt.Sprintf(" %s=%v", k, v)
	}
	return fmt.Sprintf("[%s]%s: %s", level, suffix, message)
}

func (l *defaultLogger) Info(v ...interface{}) { l.Output(calldepth, l.prefixed("INFO", fmt.Sprint(v...))) }
func (l *defaultLogger) Infof(format string, v ...interface{}) {
	l.Output(calldepth, l.prefixed("INFO", fmt.Sprintf(format, v...)))
}
func (l *defaultLogger) Warn(v ...interface{}) { l.Output(calldepth, l.prefixed("WARN", fmt.Sprint(v...))) }
func (l *defaultLogger) Warnf(format string, v ...interface{}) {
	l.Output(calldepth, l.prefixed("WARN", fmt.Sprintf(format, v...)))
}
func (l *defaultLogger) Error(v ...interface{}) {
	l.Output(calldepth, l.prefixed("ERROR", fmt.Sprint(v...)))
}
func (l *defaultLogger) Errorf(format string, v ...interface{}) {
	l.Output(calldepth, l.prefixed("ERROR", fmt.Sprintf(format, v...)))
}
func (l *defaultLogger) Debug(v ...interface{}) {
	if l.debug {
		l.Output(calldepth, l.prefixed("DEBUG", fmt.Sprint(v...)))
	}
}
func (l *defaultLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.Output(calldepth, l.prefixed("DEBUG", fmt.Sprintf(format, v...)))
	}
}
func (l *defaultLogger) Fatal(v ...interface{}) {
	l.Output(calldepth, l.prefixed("FATAL", fmt.Sprint(v...)))
	os.Exit(1)
}
func (l *defaultLogger) Fatalf(format string, v ...interface{}) {
	l.Output(calldepth, l.prefixed("FATAL", fmt.Sprintf(format, v...)))
	os.Exit(1)
}

func (l *defaultLogger) ToggleDebug(value bool) bool {
	l.debug = value
	return l.debug
}

func (l *defaultLogger) WithField(key string, value interface{}) types.Logger {
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &defaultLogger{Logger: l.Logger, debug: l.debug, fields: fields}
}
