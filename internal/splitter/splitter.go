// Package splitter ties planning to documents and execution: it opens a
// source, plans against its real page count and hands the plan to the
// executor. Both the CLI and the queue dispatcher go through it.
package splitter

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfsplitter/internal/executor"
	"github.com/local/pdfsplitter/internal/metrics"
	"github.com/local/pdfsplitter/internal/pdfdoc"
	"github.com/local/pdfsplitter/internal/splitplan"
	"github.com/local/pdfsplitter/internal/storage"
)

// Options are the per-request planning inputs that do not depend on the
// document.
type Options struct {
	Input        string
	Mode         splitplan.Mode
	Template     string
	WholeOnEmpty bool
	Merge        bool

	// Filename overrides the document name used for {base}, e.g. for
	// uploads stored under a generated name.
	Filename string
}

// Request builds the planning request for a document with pageCount pages.
func (o Options) Request(pageCount int, filename string) splitplan.Request {
	return splitplan.Request{
		Input:                o.Input,
		Mode:                 o.Mode,
		PageCount:            pageCount,
		Template:             o.Template,
		BaseFilename:         filename,
		WholeDocumentOnEmpty: o.WholeOnEmpty,
		Merge:                o.Merge,
	}
}

// Plan runs splitplan.PlanSplit and records the outcome.
func Plan(req splitplan.Request) (*splitplan.Plan, error) {
	plan, err := splitplan.PlanSplit(req)
	mode := req.Mode.String()

	var ie *splitplan.InputError
	switch {
	case err == nil:
		metrics.ObservePlan(mode, "ok")
		for _, w := range plan.Warnings {
			metrics.IncWarning(w.Kind.String())
		}
		log.Debug().
			Str("mode", mode).
			Int("pages", req.PageCount).
			Int("jobs", len(plan.Jobs)).
			Int("warnings", len(plan.Warnings)).
			Msg("plan compiled")
	case errors.As(err, &ie):
		metrics.ObservePlan(mode, "rejected")
		for _, p := range ie.Problems {
			metrics.IncProblem(p.Kind.String())
		}
		for _, w := range ie.Warnings {
			metrics.IncWarning(w.Kind.String())
		}
		log.Info().
			Str("mode", mode).
			Str("input", req.Input).
			Int("problems", len(ie.Problems)).
			Msg("selection rejected")
	default:
		metrics.ObservePlan(mode, "error")
		log.Warn().Err(err).Str("mode", mode).Msg("plan failed")
	}
	return plan, err
}

// Prepared is an opened document together with its validated plan.
type Prepared struct {
	Doc  *pdfdoc.Document
	Plan *splitplan.Plan
}

func (p *Prepared) Close() error {
	if p == nil || p.Doc == nil {
		return nil
	}
	return p.Doc.Close()
}

// Prepare opens ref and plans opts against it. The document is closed
// again when planning fails.
func Prepare(ctx context.Context, ref string, opts Options) (*Prepared, error) {
	doc, err := pdfdoc.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	name := doc.Name
	if opts.Filename != "" {
		name = opts.Filename
	}
	plan, err := Plan(opts.Request(doc.PageCount(), name))
	if err != nil {
		_ = doc.Close()
		return nil, err
	}
	return &Prepared{Doc: doc, Plan: plan}, nil
}

// Execute writes a prepared plan into sink.
func Execute(ctx context.Context, p *Prepared, ext executor.Extractor, sink storage.Sink, opts ...executor.Option) *executor.Result {
	return executor.New(ext, sink, opts...).Run(ctx, p.Doc.Path, p.Plan)
}
