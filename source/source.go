// Package source feeds storage events to an entrysync.EventHandler from a
// JSON lines stream or a NATS subject.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/unkn0wn-root/entrysync"
)

// Message is the JSON form of an event:
//
//	{"kind":"artifact.stored","storage":"storage0","repository":"releases","path":"org/a/1.0/a.jar"}
type Message struct {
	Kind       string `json:"kind"`
	Storage    string `json:"storage"`
	Repository string `json:"repository"`
	Path       string `json:"path"`
}

var ErrInvalidEvent = errors.New("source: invalid event")

// DecodeEvent parses one JSON event. Unknown kinds are rejected; paths are
// cleaned.
func DecodeEvent(b []byte) (entrysync.Event, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return entrysync.Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	k := entrysync.EventKind(m.Kind)
	if !k.Valid() {
		return entrysync.Event{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, m.Kind)
	}
	p := entrysync.Path{Storage: m.Storage, Repository: m.Repository, Name: m.Path}.Clean()
	return entrysync.Event{Kind: k, Path: p}, nil
}

// EncodeEvent is the inverse of DecodeEvent.
func EncodeEvent(ev entrysync.Event) ([]byte, error) {
	return json.Marshal(Message{
		Kind:       string(ev.Kind),
		Storage:    ev.Path.Storage,
		Repository: ev.Path.Repository,
		Path:       ev.Path.Name,
	})
}

// Stats counts what ReadLines did.
type Stats struct {
	Handled int
	Skipped int // blank, comment or undecodable lines
}

// ReadLines hands every event in r to h, one line at a time, in order.
// Blank lines and lines starting with '#' are skipped, as are lines that do
// not decode (reported to log). It stops at the first error h returns,
// which is only ever an interruption.
func ReadLines(ctx context.Context, r io.Reader, h entrysync.EventHandler, log entrysync.Logger) (Stats, error) {
	if log == nil {
		log = entrysync.NopLogger{}
	}
	var st Stats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return st, err
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			st.Skipped++
			continue
		}
		ev, err := DecodeEvent([]byte(text))
		if err != nil {
			st.Skipped++
			log.Warn("skipping event line", entrysync.Fields{"line": line, "err": err})
			continue
		}
		if err := h.Handle(ctx, ev); err != nil {
			return st, err
		}
		st.Handled++
	}
	return st, sc.Err()
}
