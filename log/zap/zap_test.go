package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/entrysync"
)

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := ZapLogger{L: zap.New(core)}

	l.Error("failed to handle async event [stored]", entrysync.Fields{
		"path": "s1/r1/a.jar",
		"err":  errors.New("boom"),
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["path"] != "s1/r1/a.jar" || ctx["err"] != "boom" {
		t.Fatalf("unexpected fields %v", ctx)
	}
}
