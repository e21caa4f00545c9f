package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/local/pdfsplitter/internal/pdfdoc"
	"github.com/local/pdfsplitter/internal/splitplan"
)

func TestClassifier(t *testing.T) {
	_, planErr := splitplan.PlanSplit(splitplan.Request{Input: "9", Mode: splitplan.Ranges, PageCount: 2})

	cases := []struct {
		name      string
		err       error
		transient bool
		fatal     bool
	}{
		{"nil", nil, false, false},
		{"deadline", fmt.Errorf("open: %w", context.DeadlineExceeded), true, false},
		{"http 503", &pdfdoc.HTTPError{StatusCode: 503}, true, false},
		{"http 429", &pdfdoc.HTTPError{StatusCode: 429}, true, false},
		{"http 404", &pdfdoc.HTTPError{StatusCode: 404}, false, true},
		{"source breaker open", fmt.Errorf("fetch: %w", gobreaker.ErrOpenState), true, false},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true, false},
		{"rejected selection", planErr, false, true},
		{"not a pdf", fmt.Errorf("%w: x", pdfdoc.ErrNotPDF), false, true},
		{"missing file", fmt.Errorf("open source: %w", fs.ErrNotExist), false, true},
		{"unknown mode", fmt.Errorf("%w: odd", splitplan.ErrUnknownMode), false, true},
		{"validation", &ValidationError{Message: "no source"}, false, true},
		{"cancelled", &CancelledError{ID: "x"}, false, true},
		{"other", errors.New("something odd"), false, false},
	}
	for _, tc := range cases {
		if got := isTransientError(tc.err); got != tc.transient {
			t.Errorf("%s: transient = %v", tc.name, got)
		}
		if got := isFatalError(tc.err); got != tc.fatal {
			t.Errorf("%s: fatal = %v", tc.name, got)
		}
	}
}

func TestRetryDelay(t *testing.T) {
	base, limit := 2*time.Second, 10*time.Second
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := retryDelay(base, limit, i+1); got != w {
			t.Errorf("attempt %d: got %s want %s", i+1, got, w)
		}
	}
	if got := retryDelay(0, limit, 1); got != time.Second {
		t.Errorf("zero base: got %s", got)
	}
}
