package slog

import (
	"context"
	stdslog "log/slog"
	"os"

	"github.com/unkn0wn-root/entrysync"
)

var _ entrysync.Logger = Logger{}

type Logger struct{ L *stdslog.Logger }

func (s Logger) Debug(msg string, f entrysync.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelDebug, msg, attrs(f)...)
}
func (s Logger) Info(msg string, f entrysync.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelInfo, msg, attrs(f)...)
}
func (s Logger) Warn(msg string, f entrysync.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelWarn, msg, attrs(f)...)
}
func (s Logger) Error(msg string, f entrysync.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelError, msg, attrs(f)...)
}

func attrs(f entrysync.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	out := make([]stdslog.Attr, 0, len(f))
	for k, v := range f {
		out = append(out, stdslog.Any(k, v))
	}
	return out
}

// New returns a JSON handler logger on stderr at level.
func New(level string) (Logger, error) {
	var lvl stdslog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return Logger{}, err
		}
	}
	h := stdslog.NewJSONHandler(os.Stderr, &stdslog.HandlerOptions{Level: lvl})
	return Logger{L: stdslog.New(h)}, nil
}
