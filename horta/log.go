package horta

import (
	"fmt"
	"strings"
	"time"
)

// ModeFlag is the minimum severity of logged messages.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var modeNames = [...]string{"debug", "info", "warning", "error", "critical", "silent"}

func (m ModeFlag) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode %d", uint(m))
}

// ParseLogMode returns the mode named by s, e.g., "warning".  The empty string is InfoMode.
func ParseLogMode(s string) (ModeFlag, error) {
	if s == "" {
		return InfoMode, nil
	}
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return ModeFlag(i), nil
		}
	}
	return InfoMode, fmt.Errorf("unknown log level %q, expected one of %s", s, strings.Join(modeNames[:], ", "))
}

var (
	// Verbose logs debug messages from the tile cache workers and tracer even when
	// the mode would suppress them.
	Verbose bool

	mode = InfoMode
)

// Logger writes messages at each severity.  Tile loads, trace jobs, and HTTP requests
// all log through the package-level functions below, which forward to one Logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})

	// Shutdown flushes and closes any log file.
	Shutdown()
}

// SetLogMode sets the severity required for a log message to be printed.
// SetLogMode(horta.WarningMode) keeps Warningf, Errorf, and Criticalf output.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

// LogMode returns the current severity threshold.
func LogMode() ModeFlag {
	return mode
}

func enabled(m ModeFlag) bool {
	return mode <= m || (m == DebugMode && Verbose && mode != SilentMode)
}

func Debugf(format string, args ...interface{}) {
	if enabled(DebugMode) {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(InfoMode) {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if enabled(WarningMode) {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(ErrorMode) {
		logger.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if enabled(CriticalMode) {
		logger.Criticalf(format, args...)
	}
}

// Shutdown closes any log file.
func Shutdown() {
	logger.Shutdown()
}

// TimeLog appends the time since its creation to each message, e.g., the time taken
// to assemble a subvolume or finish a trace job.
//
//	timedLog := horta.NewTimeLog()
//	...
//	timedLog.Debugf("Loaded %d tiles", n)  // "Loaded 12 tiles: 35.2ms"
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

// Elapsed returns the time since the TimeLog was created.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t TimeLog) withElapsed(args []interface{}) []interface{} {
	return append(args, time.Since(t.start))
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	if enabled(DebugMode) {
		logger.Debugf(format+": %s\n", t.withElapsed(args)...)
	}
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	if enabled(InfoMode) {
		logger.Infof(format+": %s\n", t.withElapsed(args)...)
	}
}

func (t TimeLog) Warningf(format string, args ...interface{}) {
	if enabled(WarningMode) {
		logger.Warningf(format+": %s\n", t.withElapsed(args)...)
	}
}

func (t TimeLog) Errorf(format string, args ...interface{}) {
	if enabled(ErrorMode) {
		logger.Errorf(format+": %s\n", t.withElapsed(args)...)
	}
}
