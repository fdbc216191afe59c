package entrysync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"conflict", ErrConflict, KindConflict},
		{"wrapped conflict", fmt.Errorf("save: %w", ErrConflict), KindConflict},
		{"exhausted", &ExhaustedError{Attempts: 10, Err: ErrConflict}, KindConflict},
		{"io", &IOError{Path: jarPath, Err: errors.New("eof")}, KindIO},
		{"canceled", context.Canceled, KindInterrupted},
		{"deadline in lock", fmt.Errorf("lock x: %w", context.DeadlineExceeded), KindInterrupted},
		{"other", errors.New("boom"), KindOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "conflict", KindConflict.String())
	assert.Equal(t, "io", KindIO.String())
	assert.Equal(t, "interrupted", KindInterrupted.String())
	assert.Equal(t, "other", KindOther.String())
}

func TestIOErrorMessage(t *testing.T) {
	err := &IOError{Path: jarPath, Err: errors.New("no such file")}
	assert.Equal(t, "produce s1/r1/group/artifact-1.0.jar: no such file", err.Error())
}
