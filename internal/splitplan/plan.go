package splitplan

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PlanSplit parses, validates and compiles req into a plan. On bad input it
// returns an *InputError holding every problem found; it never returns a
// plan without jobs. The same request always yields the same plan.
func PlanSplit(req Request) (*Plan, error) {
	if req.PageCount < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageCount, req.PageCount)
	}

	toks, problems := Tokenize(req.Input, req.Mode)

	var (
		ranges   []PageSelection
		warnings []Warning
	)
	switch req.Mode {
	case Smart, Ranges:
		var (
			sels []selection
			ps   []*Problem
		)
		if req.Mode == Smart {
			sels, ps = parseSmart(toks)
		} else {
			sels, ps = parseRanges(toks)
		}
		problems = append(problems, ps...)
		problems = append(problems, validateSelections(sels, req.PageCount)...)
		for _, s := range sels {
			ranges = append(ranges, s.PageSelection)
		}
		if len(toks) == 0 && len(problems) == 0 && req.WholeDocumentOnEmpty {
			ranges = []PageSelection{{Start: 1, End: req.PageCount}}
		}
	case CutPoints:
		cuts, ps := parseCutPoints(toks)
		problems = append(problems, ps...)
		kept, ws, vs := validateCuts(cuts, req.PageCount)
		warnings = ws
		problems = append(problems, vs...)
		if len(toks) > 0 || req.WholeDocumentOnEmpty {
			ranges = segments(kept, req.PageCount)
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(req.Mode))
	}

	if len(problems) == 0 && len(ranges) == 0 {
		problems = append(problems, &Problem{Kind: EmptySelection})
	}
	if len(problems) > 0 {
		return nil, &InputError{Problems: problems, Warnings: warnings}
	}

	base := BaseName(req.BaseFilename)
	tmpl := ParseTemplate(req.Template)
	plan := &Plan{
		Mode:      req.Mode,
		PageCount: req.PageCount,
		Jobs:      compile(ranges, req.PageCount, tmpl, base),
		Warnings:  warnings,
	}
	if req.Merge {
		name := tmpl.Render(NamingContext{
			Index:     1,
			Start:     ranges[0].Start,
			End:       ranges[len(ranges)-1].End,
			PageCount: req.PageCount,
			Base:      base,
			Mode:      "merge",
		})
		plan.Merged = &MergedOutput{
			Name:   mergedName(name, plan.Jobs),
			Ranges: plan.Ranges(),
		}
	}
	return plan, nil
}

// mergedName keeps the merged file from overwriting one of the job outputs.
func mergedName(name string, jobs []SplitJob) string {
	taken := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		taken[strings.ToLower(j.OutputName)] = true
	}
	if !taken[strings.ToLower(name)] {
		return name
	}
	stem, ext := splitExt(name)
	name = stem + "_merged" + ext
	for n := 2; taken[strings.ToLower(name)]; n++ {
		name = fmt.Sprintf("%s_merged_%d%s", stem, n, ext)
	}
	return name
}

// BaseName strips directories and the extension from a source file name.
func BaseName(filename string) string {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return ""
	}
	// accept both separators; names often come from another OS
	filename = filename[strings.LastIndexAny(filename, `/\`)+1:]
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
