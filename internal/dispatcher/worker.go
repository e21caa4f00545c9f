package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfsplitter/internal/executor"
	"github.com/local/pdfsplitter/internal/limiter"
	"github.com/local/pdfsplitter/internal/pdfdoc"
	"github.com/local/pdfsplitter/internal/queue"
	"github.com/local/pdfsplitter/internal/splitplan"
	"github.com/local/pdfsplitter/internal/splitter"
	"github.com/local/pdfsplitter/internal/storage"
	"github.com/local/pdfsplitter/internal/store"
)

type Queue interface {
	DequeueSplit(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error)
	Ack(ctx context.Context, msgID string) error
	IsCancelled(ctx context.Context, id string) (bool, error)
	EnqueueDelayed(ctx context.Context, t queue.SplitTask, executeAt time.Time) error
	AddDLQ(ctx context.Context, t queue.SplitTask, reason string) error
	IsIdemDone(ctx context.Context, key string) (bool, error)
	MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error
}

type StatusStore interface {
	Set(ctx context.Context, id string, st store.Status) error
	Get(ctx context.Context, id string) (store.Status, bool, error)
}

type OutputStore interface {
	SaveOutput(ctx context.Context, id string, o store.Output) error
}

// SinkFactory returns the sink a task's outputs go to.
type SinkFactory func(ctx context.Context, t queue.SplitTask) (storage.Sink, error)

type Config struct {
	Concurrency    int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
	JobTimeout     time.Duration
	// Writers bounds concurrent output writes within one task.
	Writers     int
	PollTimeout time.Duration
	TempMaxAge  time.Duration
}

type Deps struct {
	Queue   Queue
	Status  StatusStore
	Outputs OutputStore
	Sinks   SinkFactory
	Writer  executor.Extractor
	// Sources limits fetches per remote host. Nil means unlimited.
	Sources *limiter.Sources
}

type Worker struct {
	cfg  Config
	deps Deps
	stop chan struct{}
	wg   sync.WaitGroup
}

const idemTTL = 24 * time.Hour

func New(cfg Config, deps Deps) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 5 * time.Minute
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.Writers <= 0 {
		cfg.Writers = 2
	}
	return &Worker{cfg: cfg, deps: deps, stop: make(chan struct{})}
}

func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
	if w.cfg.TempMaxAge > 0 {
		w.wg.Add(1)
		go w.janitor()
	}
}

// Stop signals the loops and waits for running tasks until ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	consumer := fmt.Sprintf("split-worker-%d", id)
	log.Info().Int("worker", id).Msg("dispatcher worker started")
	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("dispatcher worker stopped")
			return
		default:
		}

		msgID, data, err := w.deps.Queue.DequeueSplit(context.Background(), consumer, w.cfg.PollTimeout)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if msgID == "" {
			continue
		}
		w.Handle(context.Background(), data)
		if err := w.deps.Queue.Ack(context.Background(), msgID); err != nil {
			log.Warn().Err(err).Str("msg_id", msgID).Msg("ack failed")
		}
	}
}

func (w *Worker) janitor() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.TempMaxAge / 2)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if n := pdfdoc.CleanupTemps("", w.cfg.TempMaxAge); n > 0 {
				log.Info().Int("removed", n).Msg("removed stale download temps")
			}
		}
	}
}

// Handle runs one queued payload to a final or re-scheduled state. It never
// returns an error: every outcome is recorded in the status store.
func (w *Worker) Handle(ctx context.Context, data []byte) {
	t, err := queue.DecodeTask(data)
	if err != nil {
		log.Error().Err(err).Msg("dropping undecodable task")
		return
	}
	logger := log.With().Str("split_id", t.ID).Int("attempt", t.Attempt).Logger()

	if cancelled, _ := w.deps.Queue.IsCancelled(ctx, t.ID); cancelled {
		logger.Warn().Msg("task cancelled before processing; skipping")
		w.finish(ctx, t.ID, store.StatusCancelled, "Cancelled", nil)
		w.release(t)
		return
	}
	if done, _ := w.deps.Queue.IsIdemDone(ctx, t.ID); done {
		logger.Info().Msg("task already completed; skipping duplicate")
		return
	}

	now := time.Now()
	_ = w.deps.Status.Set(ctx, t.ID, store.Status{
		Status:   store.StatusProcessing,
		Progress: 0,
		Message:  "planning",
		Start:    &now,
		Metadata: map[string]any{"source": t.Source, "attempt": t.Attempt},
	})

	res, plan, cancelled, err := w.run(ctx, t)
	if err != nil {
		if !w.fail(ctx, t, err) {
			w.release(t)
		}
		return
	}

	status, msg := summarize(res)
	if cancelled {
		status, msg = store.StatusCancelled, "Cancelled"
	}
	meta := map[string]any{
		"source":     t.Source,
		"page_count": plan.PageCount,
		"jobs":       len(plan.Jobs),
		"failed":     res.Failed(),
		"warnings":   warningStrings(plan.Warnings),
	}
	w.finish(ctx, t.ID, status, msg, meta)
	_ = w.deps.Queue.MarkIdemDone(ctx, t.ID, idemTTL)
	w.release(t)
	logger.Info().Str("status", status).Int("jobs", len(plan.Jobs)).Int("failed", res.Failed()).Msg("split task finished")
}

// run plans and writes t. cancelled reports a cancel request seen mid-run.
func (w *Worker) run(ctx context.Context, t queue.SplitTask) (*executor.Result, *splitplan.Plan, bool, error) {
	mode, err := splitplan.ParseMode(t.Mode)
	if err != nil {
		return nil, nil, false, err
	}
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}
	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)

	// the page count may differ from what the API saw, so plan again
	opts := splitter.Options{
		Input:        t.Input,
		Mode:         mode,
		Template:     t.Template,
		WholeOnEmpty: t.WholeOnEmpty,
		Merge:        t.Merge,
		Filename:     t.Filename,
	}
	var p *splitter.Prepared
	prepare := func(ctx context.Context) (err error) {
		p, err = splitter.Prepare(ctx, t.Source, opts)
		return err
	}
	if w.deps.Sources != nil {
		err = w.deps.Sources.Do(runCtx, t.Source, prepare)
	} else {
		err = prepare(runCtx)
	}
	if err != nil {
		return nil, nil, false, err
	}
	defer p.Close()

	sink, err := w.deps.Sinks(runCtx, t)
	if err != nil {
		return nil, nil, false, err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn().Err(err).Str("split_id", t.ID).Msg("sink cleanup failed")
		}
	}()

	progress := func(done, total int, r executor.JobResult) {
		o := store.Output{Seq: r.Job.Seq, Name: r.Job.OutputName, Range: r.Job.Range.String(), Location: r.Location}
		if r.Err != nil {
			o.Error = r.Err.Error()
		}
		if err := w.deps.Outputs.SaveOutput(ctx, t.ID, o); err != nil {
			log.Warn().Err(err).Str("split_id", t.ID).Msg("save output failed")
		}
		_ = w.deps.Status.Set(ctx, t.ID, store.Status{
			Status:   store.StatusProcessing,
			Progress: done * 100 / total,
			Message:  fmt.Sprintf("%d of %d outputs done", done, total),
		})
		if cancelled, _ := w.deps.Queue.IsCancelled(ctx, t.ID); cancelled {
			cancelRun(&CancelledError{ID: t.ID})
		}
	}
	res := splitter.Execute(runCtx, p, w.deps.Writer, sink,
		executor.WithWorkers(w.cfg.Writers), executor.WithProgress(progress))
	var c *CancelledError
	return res, p.Plan, errors.As(context.Cause(runCtx), &c), nil
}

// fail records err and decides between retry, DLQ and plain failure. It
// reports whether the task was scheduled to run again.
func (w *Worker) fail(ctx context.Context, t queue.SplitTask, err error) bool {
	logger := log.With().Str("split_id", t.ID).Int("attempt", t.Attempt).Logger()

	var ie *splitplan.InputError
	if errors.As(err, &ie) {
		logger.Warn().Int("problems", len(ie.Problems)).Msg("selection rejected against document")
		w.finish(ctx, t.ID, store.StatusFailed, ie.Error(), map[string]any{
			"source":   t.Source,
			"problems": ie.Problems,
		})
		return false
	}

	if isTransientError(err) && t.Attempt < w.cfg.MaxAttempts {
		delay := retryDelay(w.cfg.RetryBaseDelay, w.cfg.MaxRetryDelay, t.Attempt)
		next := t
		next.Attempt++
		if qerr := w.deps.Queue.EnqueueDelayed(ctx, next, time.Now().Add(delay)); qerr == nil {
			logger.Warn().Err(err).Dur("retry_in", delay).Msg("transient failure; retry scheduled")
			_ = w.deps.Status.Set(ctx, t.ID, store.Status{
				Status:  store.StatusQueued,
				Message: fmt.Sprintf("retrying in %s: %v", delay, err),
			})
			return true
		}
	}

	reason := "fatal"
	if !isFatalError(err) {
		reason = "attempts_exhausted"
	}
	if qerr := w.deps.Queue.AddDLQ(ctx, t, fmt.Sprintf("%s: %v", reason, err)); qerr != nil {
		logger.Error().Err(qerr).Msg("dlq push failed")
	}
	logger.Error().Err(err).Str("reason", reason).Msg("split task failed")
	w.finish(ctx, t.ID, store.StatusFailed, err.Error(), map[string]any{"source": t.Source})
	return false
}

// release deletes a source the service owns once the task is final.
func (w *Worker) release(t queue.SplitTask) {
	if !t.RemoveSource {
		return
	}
	if err := pdfdoc.RemoveLocal(t.Source); err != nil {
		log.Warn().Err(err).Str("split_id", t.ID).Str("source", t.Source).Msg("removing source failed")
	}
}

func (w *Worker) finish(ctx context.Context, id, status, msg string, meta map[string]any) {
	st, ok, _ := w.deps.Status.Get(ctx, id)
	if !ok {
		st = store.Status{}
	}
	now := time.Now()
	st.Status = status
	st.Message = msg
	st.End = &now
	if status != store.StatusCancelled {
		st.Progress = 100
	}
	if meta != nil {
		if st.Metadata == nil {
			st.Metadata = map[string]any{}
		}
		for k, v := range meta {
			st.Metadata[k] = v
		}
	}
	if err := w.deps.Status.Set(ctx, id, st); err != nil {
		log.Error().Err(err).Str("split_id", id).Msg("status update failed")
	}
}

func summarize(res *executor.Result) (string, string) {
	total := len(res.Jobs)
	if res.Merged != nil {
		total++
	}
	failed := res.Failed()
	switch {
	case failed == 0:
		return store.StatusSuccess, fmt.Sprintf("%d outputs written", total)
	case failed == total:
		return store.StatusFailed, fmt.Sprintf("all %d outputs failed", total)
	default:
		return store.StatusPartial, fmt.Sprintf("%d of %d outputs written", total-failed, total)
	}
}

func warningStrings(ws []splitplan.Warning) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.String())
	}
	return out
}
