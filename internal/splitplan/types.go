package splitplan

import (
	"fmt"
	"strings"
)

// Mode selects how input text is interpreted.
type Mode int

const (
	Smart Mode = iota + 1
	Ranges
	CutPoints
)

var modeNames = map[Mode]string{
	Smart:     "smart",
	Ranges:    "ranges",
	CutPoints: "cutpoints",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// ParseMode accepts the mode names used by the CLI and the HTTP API.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "smart", "":
		return Smart, nil
	case "ranges", "range":
		return Ranges, nil
	case "cutpoints", "cut-points", "cuts", "cut":
		return CutPoints, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// MarshalText lets Mode appear as its name in JSON.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// PageSelection is a 1-based inclusive page span.
type PageSelection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Pages returns the number of pages covered.
func (s PageSelection) Pages() int { return s.End - s.Start + 1 }

func (s PageSelection) String() string {
	if s.Start == s.End {
		return fmt.Sprintf("%d", s.Start)
	}
	return fmt.Sprintf("%d-%d", s.Start, s.End)
}

// CutPoint marks a document boundary after the given page.
type CutPoint int

// SplitJob is one output document of a plan.
type SplitJob struct {
	Seq        int           `json:"seq"`
	Range      PageSelection `json:"range"`
	OutputName string        `json:"output_name"`
}

// MergedOutput describes a single file holding every job's pages in plan order.
type MergedOutput struct {
	Name   string          `json:"name"`
	Ranges []PageSelection `json:"ranges"`
}

// NamingContext holds the substitution values for one job.
type NamingContext struct {
	Index     int
	Start     int
	End       int
	PageCount int
	Base      string
	Mode      string
}

// Plan is the ordered result of one PlanSplit call.
type Plan struct {
	Mode      Mode          `json:"mode"`
	PageCount int           `json:"page_count"`
	Jobs      []SplitJob    `json:"jobs"`
	Warnings  []Warning     `json:"warnings,omitempty"`
	Merged    *MergedOutput `json:"merged,omitempty"`
}

// Ranges returns the page ranges of all jobs in order.
func (p *Plan) Ranges() []PageSelection {
	out := make([]PageSelection, 0, len(p.Jobs))
	for _, j := range p.Jobs {
		out = append(out, j.Range)
	}
	return out
}

// Request carries everything PlanSplit needs.
type Request struct {
	Input        string
	Mode         Mode
	PageCount    int
	Template     string
	BaseFilename string

	// WholeDocumentOnEmpty turns empty input into a single full-document job
	// instead of an EmptySelection problem.
	WholeDocumentOnEmpty bool
	// Merge adds a MergedOutput covering all jobs.
	Merge bool
}

// Example returns a sample input for the mode.
func Example(m Mode) string {
	switch m {
	case Smart:
		return "2 4"
	case Ranges:
		return "3-5 8..9"
	case CutPoints:
		return "2 4 6"
	}
	return ""
}
