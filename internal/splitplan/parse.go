package splitplan

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
)

// selection is a parsed span remembering the token it came from, so the
// validator can point back at the input.
type selection struct {
	PageSelection
	token string
	group int
}

type cut struct {
	page  int
	token string
	group int
}

// parsePage reads a positive integer. Leading zeros are fine. Numbers too
// large for int come back as math.MaxInt so they fail as out of range.
func parsePage(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt, true
	}
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// splitItem reads "n" or "a-b" into one or two page numbers.
func splitItem(t Token) ([]int, *Problem) {
	text := t.Text
	i := strings.IndexByte(text, '-')
	if i < 0 {
		n, ok := parsePage(text)
		if !ok {
			return nil, &Problem{Kind: InvalidPageNumber, Token: text, Group: t.Group}
		}
		return []int{n}, nil
	}
	if i == 0 {
		// a leading hyphen is a negative number, or something worse
		if strings.Count(text, "-") == 1 {
			return nil, &Problem{Kind: InvalidPageNumber, Token: text, Group: t.Group}
		}
		return nil, &Problem{Kind: MalformedGroup, Token: text, Group: t.Group}
	}
	left, right := text[:i], text[i+1:]
	if right == "" || strings.Contains(right, "-") {
		return nil, &Problem{Kind: MalformedGroup, Token: text, Group: t.Group}
	}
	a, ok := parsePage(left)
	if !ok {
		return nil, &Problem{Kind: InvalidPageNumber, Token: text, Group: t.Group}
	}
	b, ok := parsePage(right)
	if !ok {
		return nil, &Problem{Kind: InvalidPageNumber, Token: text, Group: t.Group}
	}
	return []int{a, b}, nil
}

// parseSmart reads groups of one page or two bounds in any order.
func parseSmart(toks []Token) ([]selection, []*Problem) {
	var (
		out      []selection
		problems []*Problem
	)
	for start := 0; start < len(toks); {
		end := start
		for end < len(toks) && toks[end].Group == toks[start].Group {
			end++
		}
		group := toks[start:end]
		start = end

		var (
			nums   []int
			texts  []string
			failed bool
		)
		for _, t := range group {
			texts = append(texts, t.Text)
			ns, p := splitItem(t)
			if p != nil {
				problems = append(problems, p)
				failed = true
				continue
			}
			nums = append(nums, ns...)
		}
		if failed {
			continue
		}
		text := strings.Join(texts, " ")
		switch len(nums) {
		case 1:
			out = append(out, selection{PageSelection{nums[0], nums[0]}, text, group[0].Group})
		case 2:
			a, b := nums[0], nums[1]
			if a > b {
				a, b = b, a
			}
			out = append(out, selection{PageSelection{a, b}, text, group[0].Group})
		default:
			problems = append(problems, &Problem{Kind: MalformedGroup, Token: text, Group: group[0].Group})
		}
	}
	return out, problems
}

// parseRanges reads "n" and ascending "a-b" items.
func parseRanges(toks []Token) ([]selection, []*Problem) {
	var (
		out      []selection
		problems []*Problem
	)
	for _, t := range toks {
		ns, p := splitItem(t)
		if p != nil {
			problems = append(problems, p)
			continue
		}
		if len(ns) == 1 {
			out = append(out, selection{PageSelection{ns[0], ns[0]}, t.Text, t.Group})
			continue
		}
		if ns[0] > ns[1] {
			problems = append(problems, &Problem{Kind: ReversedRange, Token: t.Text, Group: t.Group})
			continue
		}
		out = append(out, selection{PageSelection{ns[0], ns[1]}, t.Text, t.Group})
	}
	return out, problems
}

// parseCutPoints reads single pages and returns them sorted and deduplicated.
// The first token spelling of a duplicate is kept for error reporting.
func parseCutPoints(toks []Token) ([]cut, []*Problem) {
	var (
		out      []cut
		problems []*Problem
		seen     = map[int]bool{}
	)
	for _, t := range toks {
		ns, p := splitItem(t)
		if p != nil {
			problems = append(problems, p)
			continue
		}
		if len(ns) != 1 {
			problems = append(problems, &Problem{Kind: MalformedGroup, Token: t.Text, Group: t.Group})
			continue
		}
		if seen[ns[0]] {
			continue
		}
		seen[ns[0]] = true
		out = append(out, cut{page: ns[0], token: t.Text, group: t.Group})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].page < out[j].page })
	return out, problems
}
