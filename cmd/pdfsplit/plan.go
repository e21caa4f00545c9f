package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	cfgpkg "github.com/local/pdfsplitter/internal/config"
	"github.com/local/pdfsplitter/internal/pdfdoc"
	"github.com/local/pdfsplitter/internal/splitplan"
	"github.com/local/pdfsplitter/internal/splitter"
)

func newPlanCmd(cfg cfgpkg.Config) *cobra.Command {
	var (
		sel    selectionFlags
		pages  int
		name   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "plan [FILE...]",
		Short: "Show the outputs a selection would produce without writing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := sel.options()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				if pages <= 0 {
					return errors.New("give FILE arguments or --pages")
				}
				opts.Filename = name
				plan, err := splitter.Plan(opts.Request(pages, name))
				return printPlan(out, name, plan, err, asJSON)
			}

			rejected := 0
			for _, ref := range args {
				doc, err := pdfdoc.Open(cmd.Context(), ref)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", ref, err)
					rejected++
					continue
				}
				plan, perr := splitter.Plan(opts.Request(doc.PageCount(), doc.Name))
				_ = doc.Close()
				if printPlan(out, doc.Name, plan, perr, asJSON) != nil {
					rejected++
				}
			}
			if rejected > 0 {
				return fmt.Errorf("%d of %d files rejected", rejected, len(args))
			}
			return nil
		},
	}
	sel.register(cmd, cfg)
	cmd.Flags().IntVarP(&pages, "pages", "p", 0, "plan against a page count instead of files")
	cmd.Flags().StringVar(&name, "name", "document.pdf", "base file name used with --pages")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print plans as JSON")
	return cmd
}

func (f *selectionFlags) options() (splitter.Options, error) {
	mode, err := splitplan.ParseMode(f.mode)
	if err != nil {
		return splitter.Options{}, err
	}
	return splitter.Options{
		Input:        f.rules,
		Mode:         mode,
		Template:     f.template,
		WholeOnEmpty: f.wholeOnEmpty,
		Merge:        f.merge,
	}, nil
}

// printPlan writes plan, or the rejection in err, and returns err.
func printPlan(w io.Writer, name string, plan *splitplan.Plan, err error, asJSON bool) error {
	if asJSON {
		v := any(plan)
		if err != nil {
			rej := map[string]any{"file": name, "error": err.Error()}
			var ie *splitplan.InputError
			if errors.As(err, &ie) {
				rej["problems"] = ie.Problems
			}
			v = rej
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return err
	}
	if err != nil {
		printRejection(w, name, err)
		return err
	}

	fmt.Fprintf(w, "%s: %d pages, %d outputs (%s)\n", name, plan.PageCount, len(plan.Jobs), plan.Mode)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if plan.Merged != nil {
		fmt.Fprintf(tw, "  merged\t%s\t%s\n", rangeList(plan.Merged.Ranges), plan.Merged.Name)
	} else {
		for _, j := range plan.Jobs {
			fmt.Fprintf(tw, "  %d\t%s\t%s\n", j.Seq, j.Range, j.OutputName)
		}
	}
	_ = tw.Flush()
	for _, wn := range plan.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", wn)
	}
	return nil
}

func printRejection(w io.Writer, name string, err error) {
	var ie *splitplan.InputError
	if !errors.As(err, &ie) {
		fmt.Fprintf(w, "%s: %v\n", name, err)
		return
	}
	fmt.Fprintf(w, "%s: selection rejected\n", name)
	for _, p := range ie.Problems {
		fmt.Fprintf(w, "  - %s\n", p.Error())
	}
}

func rangeList(rs []splitplan.PageSelection) string {
	s := ""
	for i, r := range rs {
		if i > 0 {
			s += ","
		}
		s += r.String()
	}
	return s
}
