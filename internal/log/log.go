package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

// newLogger builds the shared logger. LOG_LEVEL accepts any logrus level
// name, case-insensitive; unknown values keep the info default.
func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if level, err := logrus.ParseLevel(raw); err == nil {
			l.SetLevel(level)
		}
	}
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}

// GetLogger returns the shared logger instance
func GetLogger() *logrus.Logger {
	return logger
}
