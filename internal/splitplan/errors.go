package splitplan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidCharacter  = errors.New("invalid character")
	ErrInvalidPageNumber = errors.New("invalid page number")
	ErrMalformedGroup    = errors.New("malformed group")
	ErrReversedRange     = errors.New("reversed range")
	ErrPageOutOfRange    = errors.New("page out of range")
	ErrEmptySelection    = errors.New("empty selection")
	ErrInvalidPageCount  = errors.New("invalid page count")
	ErrUnknownMode       = errors.New("unknown mode")
)

// Kind classifies a Problem.
type Kind int

const (
	InvalidCharacter Kind = iota + 1
	InvalidPageNumber
	MalformedGroup
	ReversedRange
	PageOutOfRange
	EmptySelection
)

var kindInfo = map[Kind]struct {
	name string
	err  error
}{
	InvalidCharacter:  {"invalid_character", ErrInvalidCharacter},
	InvalidPageNumber: {"invalid_page_number", ErrInvalidPageNumber},
	MalformedGroup:    {"malformed_group", ErrMalformedGroup},
	ReversedRange:     {"reversed_range", ErrReversedRange},
	PageOutOfRange:    {"page_out_of_range", ErrPageOutOfRange},
	EmptySelection:    {"empty_selection", ErrEmptySelection},
}

func (k Kind) String() string {
	if i, ok := kindInfo[k]; ok {
		return i.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Problem is one parse or validation failure. Token and Group point back at
// the input; Page and PageCount are set for PageOutOfRange.
type Problem struct {
	Kind      Kind   `json:"kind"`
	Token     string `json:"token,omitempty"`
	Group     int    `json:"group,omitempty"`
	Page      int    `json:"page,omitempty"`
	PageCount int    `json:"page_count,omitempty"`
}

func (p *Problem) Error() string {
	switch p.Kind {
	case InvalidCharacter:
		return fmt.Sprintf("group %d: %q contains characters other than digits and '-'", p.Group, p.Token)
	case InvalidPageNumber:
		return fmt.Sprintf("group %d: %q is not a positive page number", p.Group, p.Token)
	case MalformedGroup:
		return fmt.Sprintf("group %d: %q must be a single page or two page bounds", p.Group, p.Token)
	case ReversedRange:
		return fmt.Sprintf("group %d: range %q ends before it starts", p.Group, p.Token)
	case PageOutOfRange:
		return fmt.Sprintf("group %d: page %d in %q is outside 1..%d", p.Group, p.Page, p.Token, p.PageCount)
	case EmptySelection:
		return "no pages selected; enter page numbers, ranges such as 3-5, or cut points"
	}
	return p.Kind.String()
}

func (p *Problem) Unwrap() error {
	if i, ok := kindInfo[p.Kind]; ok {
		return i.err
	}
	return nil
}

// WarningKind classifies a non-fatal Warning.
type WarningKind int

const (
	RedundantCutPoint WarningKind = iota + 1
)

func (k WarningKind) String() string {
	switch k {
	case RedundantCutPoint:
		return "redundant_cut_point"
	}
	return fmt.Sprintf("warning(%d)", int(k))
}

func (k WarningKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Warning is reported alongside a plan; it never stops the operation.
type Warning struct {
	Kind  WarningKind `json:"kind"`
	Page  int         `json:"page,omitempty"`
	Token string      `json:"token,omitempty"`
}

func (w Warning) String() string {
	switch w.Kind {
	case RedundantCutPoint:
		return fmt.Sprintf("cut point %d is the last page and was ignored", w.Page)
	}
	return w.Kind.String()
}

// InputError is the batch of problems that stopped a plan. It unwraps to
// every problem, so errors.Is(err, ErrPageOutOfRange) works on it.
type InputError struct {
	Problems []*Problem `json:"problems"`
	Warnings []Warning  `json:"warnings,omitempty"`
}

func (e *InputError) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0].Error()
	}
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}
	return fmt.Sprintf("%d problems: %s", len(e.Problems), strings.Join(msgs, "; "))
}

func (e *InputError) Unwrap() []error {
	out := make([]error, 0, len(e.Problems))
	for _, p := range e.Problems {
		out = append(out, p)
	}
	return out
}

// Count returns how many problems have the given kind.
func (e *InputError) Count(k Kind) int {
	n := 0
	for _, p := range e.Problems {
		if p.Kind == k {
			n++
		}
	}
	return n
}

// MarshalJSON adds a human readable message per problem.
func (p *Problem) MarshalJSON() ([]byte, error) {
	type alias Problem
	return json.Marshal(struct {
		*alias
		Message string `json:"message"`
	}{(*alias)(p), p.Error()})
}
