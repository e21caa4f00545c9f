package splitplan

// validateSelections reports every endpoint outside [1, pageCount]. Both
// ends of a span are checked so the user sees all bad numbers at once.
func validateSelections(sels []selection, pageCount int) []*Problem {
	var problems []*Problem
	for _, s := range sels {
		problems = appendOutOfRange(problems, s.Start, pageCount, s.token, s.group)
		if s.End != s.Start {
			problems = appendOutOfRange(problems, s.End, pageCount, s.token, s.group)
		}
	}
	return problems
}

// validateCuts drops cut points at the last page with a warning and reports
// the ones past it.
func validateCuts(cuts []cut, pageCount int) ([]int, []Warning, []*Problem) {
	var (
		kept     []int
		warnings []Warning
		problems []*Problem
	)
	for _, c := range cuts {
		switch {
		case c.page == pageCount:
			warnings = append(warnings, Warning{Kind: RedundantCutPoint, Page: c.page, Token: c.token})
		case c.page > pageCount:
			problems = appendOutOfRange(problems, c.page, pageCount, c.token, c.group)
		default:
			kept = append(kept, c.page)
		}
	}
	return kept, warnings, problems
}

func appendOutOfRange(problems []*Problem, page, pageCount int, token string, group int) []*Problem {
	if page >= 1 && page <= pageCount {
		return problems
	}
	return append(problems, &Problem{Kind: PageOutOfRange, Token: token, Group: group, Page: page, PageCount: pageCount})
}
