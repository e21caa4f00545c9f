package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	cfgpkg "github.com/local/pdfsplitter/internal/config"
	"github.com/local/pdfsplitter/internal/executor"
	"github.com/local/pdfsplitter/internal/pdfdoc"
	"github.com/local/pdfsplitter/internal/splitplan"
	"github.com/local/pdfsplitter/internal/splitter"
	"github.com/local/pdfsplitter/internal/storage"
)

var newExtractor = func() executor.Extractor { return pdfdoc.NewWriter() }

func newSplitCmd(cfg cfgpkg.Config) *cobra.Command {
	var (
		sel      selectionFlags
		out      string
		workers  int
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "split FILE...",
		Short: "Write the outputs of a selection for each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := sel.options()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			prepared, err := prepareAll(ctx, cmd.OutOrStdout(), args, opts)
			defer func() {
				for _, p := range prepared {
					_ = p.Close()
				}
			}()
			if err != nil {
				return err
			}
			uniqueNames(prepared)

			storageCfg := cfg.Storage
			if cmd.Flags().Changed("out") {
				// an explicit --out always means a local directory
				storageCfg.Backend = "local"
			}
			show := progress || isTerminal(cmd.ErrOrStderr())
			failed := 0
			for _, p := range prepared {
				sink, err := storage.Open(ctx, storageCfg, out)
				if err != nil {
					return err
				}
				res := runOne(ctx, cmd, p, sink, workers, show)
				_ = sink.Close()
				failed += res.Failed()
			}
			if failed > 0 {
				return fmt.Errorf("%d outputs failed", failed)
			}
			return ctx.Err()
		},
	}
	sel.register(cmd, cfg)
	cmd.Flags().StringVarP(&out, "out", "o", cfg.Split.OutputDir, "output directory")
	cmd.Flags().IntVarP(&workers, "workers", "w", cfg.Split.Workers, "concurrent writes per file")
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar even when stderr is not a terminal")
	return cmd
}

// prepareAll opens and plans every file before anything is written. On any
// rejection it reports all of them and returns an error.
func prepareAll(ctx context.Context, w io.Writer, refs []string, opts splitter.Options) ([]*splitter.Prepared, error) {
	var (
		prepared []*splitter.Prepared
		rejected int
	)
	for _, ref := range refs {
		p, err := splitter.Prepare(ctx, ref, opts)
		if err != nil {
			printRejection(w, ref, err)
			rejected++
			continue
		}
		prepared = append(prepared, p)
	}
	if rejected > 0 {
		return prepared, fmt.Errorf("%d of %d files rejected, nothing written", rejected, len(refs))
	}
	return prepared, nil
}

// uniqueNames renames outputs that collide across files, since every file
// of a batch writes into the same directory.
func uniqueNames(prepared []*splitter.Prepared) {
	var names []string
	for _, p := range prepared {
		if p.Plan.Merged != nil {
			names = append(names, p.Plan.Merged.Name)
			continue
		}
		for _, j := range p.Plan.Jobs {
			names = append(names, j.OutputName)
		}
	}
	names = splitplan.Disambiguate(names)
	i := 0
	for _, p := range prepared {
		if p.Plan.Merged != nil {
			p.Plan.Merged.Name = names[i]
			i++
			continue
		}
		for k := range p.Plan.Jobs {
			p.Plan.Jobs[k].OutputName = names[i]
			i++
		}
	}
}

func runOne(ctx context.Context, cmd *cobra.Command, p *splitter.Prepared, sink storage.Sink, workers int, show bool) *executor.Result {
	total := len(p.Plan.Jobs)
	if p.Plan.Merged != nil {
		total = 1
	}
	barOut := io.Discard
	if show {
		barOut = cmd.ErrOrStderr()
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(barOut),
		progressbar.OptionSetDescription(p.Doc.Name),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(barOut) }),
	)
	res := splitter.Execute(ctx, p, newExtractor(), sink,
		executor.WithWorkers(workers),
		executor.WithProgress(func(_, _ int, _ executor.JobResult) { _ = bar.Add(1) }),
	)
	_ = bar.Finish()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %d pages\n", p.Doc.Name, p.Plan.PageCount)
	results := res.Jobs
	if res.Merged != nil {
		results = []executor.JobResult{*res.Merged}
	}
	for _, r := range results {
		label := r.Job.Range.String()
		if res.Merged != nil {
			label = rangeList(p.Plan.Merged.Ranges)
		}
		switch {
		case r.Err == nil:
			fmt.Fprintf(w, "  ok    %-8s %s\n", label, r.Location)
		case errors.Is(r.Err, context.Canceled):
			fmt.Fprintf(w, "  skip  %-8s %s (cancelled)\n", label, r.Job.OutputName)
		default:
			fmt.Fprintf(w, "  FAIL  %-8s %s: %v\n", label, r.Job.OutputName, r.Err)
		}
	}
	for _, wn := range p.Plan.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", wn)
	}
	return res
}
