package horta

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

// stdLogger writes through the standard log package, optionally into a rotating file.
type stdLogger struct {
	file *lumberjack.Logger
}

var logger Logger = stdLogger{}

// LogConfig is the [logging] section of the server TOML file.
type LogConfig struct {
	Logfile string
	Level   string // debug, info, warning, error, critical, or silent
	MaxSize int    `toml:"max_log_size"` // MB before rotation
	MaxAge  int    `toml:"max_log_age"`  // days rotated files are kept
}

// SetLogger applies the level and, if a log file is configured, sends all output to it.
func (c *LogConfig) SetLogger() error {
	if c == nil {
		return nil
	}
	m, err := ParseLogMode(c.Level)
	if err != nil {
		return err
	}
	SetLogMode(m)
	if c.Logfile == "" {
		Infof("No log file configured; logging %s and above to stderr\n", m)
		return nil
	}
	fmt.Printf("Sending horta log messages to: %s\n", c.Logfile)
	f := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(f)
	logger = stdLogger{f}
	return nil
}

func (l stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf(" DEBUG "+format, args...)
}

func (l stdLogger) Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

func (l stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

func (l stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}

func (l stdLogger) Criticalf(format string, args ...interface{}) {
	log.Printf(" CRITICAL "+format, args...)
}

func (l stdLogger) Shutdown() {
	if l.file != nil {
		log.Printf(" INFO Closing horta log file %s\n", l.file.Filename)
		l.file.Close()
	}
}
