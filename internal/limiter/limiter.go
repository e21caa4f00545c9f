// Package limiter guards fetches from remote document sources. Each host
// (or S3 bucket) gets a bounded number of concurrent fetches and a circuit
// breaker that opens after repeated transient failures.
package limiter

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

type Options struct {
	MaxInflight    int
	FailuresToTrip uint32
	OpenTimeout    time.Duration
	// IsFailure decides which errors count against the breaker. Errors it
	// rejects (a bad selection, a missing object) leave the host healthy.
	IsFailure func(error) bool
}

type Sources struct {
	opts     Options
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
	sem      map[string]chan struct{}
}

func New(opts Options) *Sources {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 4
	}
	if opts.FailuresToTrip == 0 {
		opts.FailuresToTrip = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	if opts.IsFailure == nil {
		opts.IsFailure = func(err error) bool { return err != nil }
	}
	return &Sources{
		opts:     opts,
		breakers: map[string]*gobreaker.CircuitBreaker[struct{}]{},
		sem:      map[string]chan struct{}{},
	}
}

// Key names the remote a reference is fetched from: "http:<host>" or
// "s3:<bucket>". Local files have no key and are never limited.
func Key(ref string) string {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		u, err := url.Parse(ref)
		if err != nil || u.Host == "" {
			return ""
		}
		return "http:" + strings.ToLower(u.Host)
	case strings.HasPrefix(ref, "s3://"):
		bucket, _, _ := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
		if bucket == "" {
			return ""
		}
		return "s3:" + bucket
	}
	return ""
}

// Do runs fn under the limits for ref's remote. While the breaker is open
// fn is not called and the returned error satisfies IsOpen.
func (s *Sources) Do(ctx context.Context, ref string, fn func(context.Context) error) error {
	key := Key(ref)
	if key == "" {
		return fn(ctx)
	}
	release, err := s.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.breaker(key).Execute(func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// State reports the breaker state for a key, closed for unknown keys.
func (s *Sources) State(key string) gobreaker.State {
	s.mu.Lock()
	cb, ok := s.breakers[key]
	s.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func (s *Sources) acquire(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	ch, ok := s.sem[key]
	if !ok {
		ch = make(chan struct{}, s.opts.MaxInflight)
		s.sem[key] = ch
	}
	s.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Sources) breaker(key string) *gobreaker.CircuitBreaker[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[key]; ok {
		return cb
	}
	trip := s.opts.FailuresToTrip
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     s.opts.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= trip
		},
		IsSuccessful: func(err error) bool {
			return !s.opts.IsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("source", name).Str("from", from.String()).Str("to", to.String()).Msg("source breaker state change")
		},
	})
	s.breakers[key] = cb
	return cb
}

func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
