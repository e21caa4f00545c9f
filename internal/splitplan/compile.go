package splitplan

// segments partitions 1..pageCount at the sorted cut points.
func segments(cuts []int, pageCount int) []PageSelection {
	out := make([]PageSelection, 0, len(cuts)+1)
	prev := 0
	for _, c := range cuts {
		out = append(out, PageSelection{Start: prev + 1, End: c})
		prev = c
	}
	return append(out, PageSelection{Start: prev + 1, End: pageCount})
}

// compile numbers the ranges from 1 and resolves their output names.
func compile(ranges []PageSelection, pageCount int, tmpl *Template, base string) []SplitJob {
	names := make([]string, len(ranges))
	for i, r := range ranges {
		names[i] = tmpl.Render(NamingContext{
			Index:     i + 1,
			Start:     r.Start,
			End:       r.End,
			PageCount: pageCount,
			Base:      base,
			Mode:      "range",
		})
	}
	names = Disambiguate(names)
	jobs := make([]SplitJob, len(ranges))
	for i, r := range ranges {
		jobs[i] = SplitJob{Seq: i + 1, Range: r, OutputName: names[i]}
	}
	return jobs
}
