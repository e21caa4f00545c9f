package splitplan

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultTemplate matches the naming of the desktop tool.
const DefaultTemplate = "{base}_part{idx:02d}_p{start}-{end}.pdf"

const defaultBase = "document"

var unsafeName = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

type part struct {
	literal string
	field   string
	width   int
}

// Template is a parsed naming template. The zero value renders DefaultTemplate.
type Template struct {
	parts []part
}

// ParseTemplate never fails: anything it does not recognise stays literal.
func ParseTemplate(s string) *Template {
	if strings.TrimSpace(s) == "" {
		s = DefaultTemplate
	}
	t := &Template{}
	for len(s) > 0 {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			t.parts = append(t.parts, part{literal: s})
			break
		}
		end := strings.IndexByte(s[open:], '}')
		if end < 0 {
			t.parts = append(t.parts, part{literal: s})
			break
		}
		end += open
		if open > 0 {
			t.parts = append(t.parts, part{literal: s[:open]})
		}
		raw := s[open : end+1]
		if p, ok := parseField(s[open+1 : end]); ok {
			t.parts = append(t.parts, p)
		} else {
			t.parts = append(t.parts, part{literal: raw})
		}
		s = s[end+1:]
	}
	return t
}

func parseField(body string) (part, bool) {
	name, format, hasFormat := strings.Cut(body, ":")
	switch name {
	case "idx", "start", "end", "pages", "total":
	case "base", "mode":
		return part{field: name}, !hasFormat
	default:
		return part{}, false
	}
	if !hasFormat {
		return part{field: name}, true
	}
	format = strings.TrimSuffix(format, "d")
	w, err := strconv.Atoi(format)
	if err != nil || w < 0 || w > 12 {
		return part{}, false
	}
	return part{field: name, width: w}, true
}

// Render substitutes the context into the template and returns a file name
// that is safe to join to an output directory and ends in ".pdf".
func (t *Template) Render(nc NamingContext) string {
	parts := t.parts
	if parts == nil {
		parts = ParseTemplate(DefaultTemplate).parts
	}
	base := nc.Base
	if base == "" {
		base = defaultBase
	}
	var b strings.Builder
	for _, p := range parts {
		switch p.field {
		case "":
			b.WriteString(p.literal)
		case "base":
			b.WriteString(base)
		case "mode":
			b.WriteString(nc.Mode)
		case "idx":
			b.WriteString(pad(nc.Index, p.width))
		case "start":
			b.WriteString(pad(nc.Start, p.width))
		case "end":
			b.WriteString(pad(nc.End, p.width))
		case "pages":
			b.WriteString(pad(nc.End-nc.Start+1, p.width))
		case "total":
			b.WriteString(pad(nc.PageCount, p.width))
		}
	}
	name := strings.TrimSpace(unsafeName.Replace(b.String()))
	if name == "" || name == ".pdf" {
		name = base + ".pdf"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

func pad(n, width int) string {
	if width <= 0 {
		return strconv.Itoa(n)
	}
	return fmt.Sprintf("%0*d", width, n)
}

// RenderName is a shortcut for ParseTemplate(tmpl).Render(nc).
func RenderName(tmpl string, nc NamingContext) string {
	return ParseTemplate(tmpl).Render(nc)
}

// Disambiguate keeps the first use of each name and suffixes later
// collisions with their 1-based position in names. Comparison ignores case because
// outputs often land on case-insensitive volumes.
func Disambiguate(names []string) []string {
	out := make([]string, len(names))
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[strings.ToLower(n)] = true
	}
	used := make(map[string]bool, len(names))
	for i, n := range names {
		k := strings.ToLower(n)
		if !used[k] {
			used[k] = true
			out[i] = n
			continue
		}
		stem, ext := splitExt(n)
		seq := i + 1
		cand := fmt.Sprintf("%s_%d%s", stem, seq, ext)
		for extra := 2; taken[strings.ToLower(cand)]; extra++ {
			cand = fmt.Sprintf("%s_%d_%d%s", stem, seq, extra, ext)
		}
		taken[strings.ToLower(cand)] = true
		used[strings.ToLower(cand)] = true
		out[i] = cand
	}
	return out
}

func splitExt(name string) (string, string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:]
}
