package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestKey(t *testing.T) {
	tests := []struct {
		ref, want string
	}{
		{"https://Docs.Example.com/a.pdf", "http:docs.example.com"},
		{"http://localhost:8080/x", "http:localhost:8080"},
		{"s3://bucket/dir/a.pdf", "s3:bucket"},
		{"s3:///a.pdf", ""},
		{"file:///tmp/a.pdf", ""},
		{"/tmp/a.pdf", ""},
	}
	for _, tt := range tests {
		if got := Key(tt.ref); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	errDown := errors.New("503")
	s := New(Options{FailuresToTrip: 2, OpenTimeout: time.Hour})
	calls := 0
	fail := func(context.Context) error { calls++; return errDown }

	for i := 0; i < 2; i++ {
		if err := s.Do(context.Background(), "https://h/a.pdf", fail); !errors.Is(err, errDown) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	err := s.Do(context.Background(), "https://h/b.pdf", fail)
	if !IsOpen(err) || calls != 2 {
		t.Fatalf("expected open breaker without a call, got %v after %d calls", err, calls)
	}
	if s.State("http:h") != gobreaker.StateOpen {
		t.Fatalf("state %v", s.State("http:h"))
	}

	// other hosts and local files are unaffected
	if err := s.Do(context.Background(), "https://other/a.pdf", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := s.Do(context.Background(), "/tmp/a.pdf", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
}

func TestIgnoredErrorsKeepBreakerClosed(t *testing.T) {
	errBad := errors.New("bad selection")
	s := New(Options{FailuresToTrip: 1, IsFailure: func(err error) bool { return err != nil && !errors.Is(err, errBad) }})
	for i := 0; i < 3; i++ {
		if err := s.Do(context.Background(), "s3://b/k", func(context.Context) error { return errBad }); !errors.Is(err, errBad) {
			t.Fatalf("got %v", err)
		}
	}
	if s.State("s3:b") != gobreaker.StateClosed {
		t.Fatal("breaker opened on ignored errors")
	}
}

func TestInflightBound(t *testing.T) {
	s := New(Options{MaxInflight: 2})
	var cur, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), "https://h/a.pdf", func(context.Context) error {
				n := atomic.AddInt32(&cur, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&cur, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Fatalf("peak inflight %d", peak)
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	s := New(Options{MaxInflight: 1})
	hold := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "https://h/a", func(context.Context) error { <-hold; return nil })
	}()
	time.Sleep(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Do(ctx, "https://h/b", func(context.Context) error { return nil })
	close(hold)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}
}
