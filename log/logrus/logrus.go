package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/entrysync"
)

var _ entrysync.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

func (l LogrusLogger) Debug(msg string, f entrysync.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l LogrusLogger) Info(msg string, f entrysync.Fields) { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l LogrusLogger) Warn(msg string, f entrysync.Fields) { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l LogrusLogger) Error(msg string, f entrysync.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}

// New returns a JSON logrus logger at level.
func New(level string) (LogrusLogger, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return LogrusLogger{}, err
		}
		l.SetLevel(lvl)
	}
	return LogrusLogger{E: logrus.NewEntry(l)}, nil
}
