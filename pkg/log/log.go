package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// PluggableLoggerInterface is the logging contract shared by all components.
// Formats follow fmt.Printf conventions.
type PluggableLoggerInterface interface {
	Error(msg string, val ...interface{})
	Warn(msg string, val ...interface{})
	Info(msg string, val ...interface{})
	Debug(msg string, val ...interface{})
	Trace(msg string, val ...interface{})
	Level() string
}

type Logger struct {
	log   *logrus.Logger
	level string
}

// New returns a logger at the given level, one of
// (trace, debug, info, warn, error). Unknown levels fall back to info.
func New(level string) PluggableLoggerInterface {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
		level = "info"
	}
	l.SetLevel(parsed)
	return &Logger{log: l, level: level}
}

// NewDiscard returns a logger that swallows all output, used in tests.
func NewDiscard() PluggableLoggerInterface {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{log: l, level: "info"}
}

func (o *Logger) Error(msg string, val ...interface{}) {
	o.log.Errorf(msg, val...)
}

func (o *Logger) Warn(msg string, val ...interface{}) {
	o.log.Warnf(msg, val...)
}

func (o *Logger) Info(msg string, val ...interface{}) {
	o.log.Infof(msg, val...)
}

func (o *Logger) Debug(msg string, val ...interface{}) {
	o.log.Debugf(msg, val...)
}

func (o *Logger) Trace(msg string, val ...interface{}) {
	o.log.Tracef(msg, val...)
}

func (o *Logger) Level() string {
	return o.level
}
