// Package executor writes the jobs of a compiled plan with a bounded pool
// of workers. Planning has already validated everything; a job failing
// here is an I/O problem and never stops the others.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfsplitter/internal/metrics"
	"github.com/local/pdfsplitter/internal/splitplan"
	"github.com/local/pdfsplitter/internal/storage"
)

// Extractor copies page ranges of srcPath into outPath.
type Extractor interface {
	Extract(ctx context.Context, srcPath string, ranges []splitplan.PageSelection, outPath string) error
}

// JobResult is the outcome of writing one job.
type JobResult struct {
	Job      splitplan.SplitJob `json:"job"`
	Location string             `json:"location,omitempty"`
	Err      error              `json:"-"`
	Duration time.Duration      `json:"duration"`
}

// ProgressFunc is called once per finished job, from a single goroutine at
// a time. done counts finished jobs including r.
type ProgressFunc func(done, total int, r JobResult)

type Option func(*Executor)

// WithWorkers bounds the number of concurrent writes. Values < 1 mean 1.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n < 1 {
			n = 1
		}
		e.workers = n
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(e *Executor) { e.progress = fn }
}

type Executor struct {
	ext      Extractor
	sink     storage.Sink
	workers  int
	progress ProgressFunc
}

func New(ext Extractor, sink storage.Sink, opts ...Option) *Executor {
	e := &Executor{ext: ext, sink: sink, workers: 2}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Result holds one JobResult per plan job, in plan order, or only the
// merged output when the plan asked for one.
type Result struct {
	Jobs   []JobResult `json:"jobs"`
	Merged *JobResult  `json:"merged,omitempty"`
}

// Failed returns the number of failed jobs, merged output included.
func (r *Result) Failed() int {
	n := 0
	for _, j := range r.all() {
		if j.Err != nil {
			n++
		}
	}
	return n
}

// Err joins the errors of all failed jobs, or returns nil.
func (r *Result) Err() error {
	var errs []error
	for _, j := range r.all() {
		if j.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.Job.OutputName, j.Err))
		}
	}
	return errors.Join(errs...)
}

func (r *Result) all() []JobResult {
	if r.Merged == nil {
		return r.Jobs
	}
	return append(append([]JobResult(nil), r.Jobs...), *r.Merged)
}

type task struct {
	idx    int
	job    splitplan.SplitJob
	ranges []splitplan.PageSelection
}

// Run writes every job of plan from srcPath. It always returns a Result;
// context cancellation marks jobs that had not started with ctx.Err().
func (e *Executor) Run(ctx context.Context, srcPath string, plan *splitplan.Plan) *Result {
	var tasks []task
	if m := plan.Merged; m != nil && len(m.Ranges) > 0 {
		// one file with every range replaces the per-job files
		tasks = []task{{
			job: splitplan.SplitJob{
				Seq:        len(plan.Jobs) + 1,
				Range:      splitplan.PageSelection{Start: m.Ranges[0].Start, End: m.Ranges[len(m.Ranges)-1].End},
				OutputName: m.Name,
			},
			ranges: m.Ranges,
		}}
	} else {
		tasks = make([]task, 0, len(plan.Jobs))
		for i, j := range plan.Jobs {
			tasks = append(tasks, task{idx: i, job: j, ranges: []splitplan.PageSelection{j.Range}})
		}
	}

	results := make([]JobResult, len(tasks))
	ch := make(chan task)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	workers := e.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range ch {
				r := e.runOne(ctx, srcPath, t)
				results[t.idx] = r
				mu.Lock()
				done++
				if e.progress != nil {
					e.progress(done, len(tasks), r)
				}
				mu.Unlock()
			}
		}()
	}
	for _, t := range tasks {
		ch <- t
	}
	close(ch)
	wg.Wait()

	res := &Result{Jobs: results}
	if plan.Merged != nil && len(plan.Merged.Ranges) > 0 {
		res = &Result{Merged: &results[0]}
	}
	log.Info().
		Str("source", srcPath).
		Int("jobs", len(tasks)).
		Int("failed", res.Failed()).
		Msg("split finished")
	return res
}

func (e *Executor) runOne(ctx context.Context, srcPath string, t task) JobResult {
	r := JobResult{Job: t.job}
	if err := ctx.Err(); err != nil {
		r.Err = err
		metrics.ObserveJob("cancelled", 0, 0)
		return r
	}
	pages := 0
	for _, s := range t.ranges {
		pages += s.Pages()
	}

	start := time.Now()
	r.Location, r.Err = e.write(ctx, srcPath, t)
	r.Duration = time.Since(start)

	if r.Err != nil {
		result := "failed"
		if errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded) {
			result = "cancelled"
		}
		metrics.ObserveJob(result, pages, r.Duration)
		log.Error().Err(r.Err).Int("seq", t.job.Seq).Str("output", t.job.OutputName).Msg("split job failed")
		return r
	}
	metrics.ObserveJob("written", pages, r.Duration)
	log.Debug().
		Int("seq", t.job.Seq).
		Str("range", t.job.Range.String()).
		Str("location", r.Location).
		Dur("took", r.Duration).
		Msg("split job written")
	return r
}

func (e *Executor) write(ctx context.Context, srcPath string, t task) (string, error) {
	out, err := e.sink.Stage(t.job.OutputName)
	if err != nil {
		return "", err
	}
	if err := e.ext.Extract(ctx, srcPath, t.ranges, out); err != nil {
		return "", err
	}
	return e.sink.Commit(ctx, t.job.OutputName, out)
}
