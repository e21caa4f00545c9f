package splitplan

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Token is one trimmed item of input.
type Token struct {
	Text  string
	Group int
	Index int
}

var dashes = strings.NewReplacer(
	"..", "-",
	"‐", "-", // hyphen
	"‑", "-", // non-breaking hyphen
	"‒", "-", // figure dash
	"–", "-", // en dash
	"—", "-", // em dash
	"−", "-", // minus sign
	"﹣", "-", // small hyphen-minus
)

// normalize folds full-width forms and dash spellings, then glues hyphens
// to their neighbours so that "8 - 10" reads as one item.
func normalize(raw string) string {
	s := width.Narrow.String(raw)
	s = dashes.Replace(s)
	var b strings.Builder
	b.Grow(len(s))
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if unicode.IsSpace(r) {
			// drop whitespace that touches a hyphen on either side
			j := i
			for j < len(rs) && unicode.IsSpace(rs[j]) {
				j++
			}
			prevHyphen := b.Len() > 0 && strings.HasSuffix(b.String(), "-")
			nextHyphen := j < len(rs) && rs[j] == '-'
			if !prevHyphen && !nextHyphen {
				b.WriteRune(' ')
			}
			i = j - 1
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isGroupSep(r rune) bool { return r == ',' || r == ';' }

// Tokenize splits raw input into ordered tokens for the mode. Tokens with
// characters other than digits and '-' are reported and left out.
func Tokenize(raw string, mode Mode) ([]Token, []*Problem) {
	var (
		toks     []Token
		problems []*Problem
		group    int
		index    int
	)
	for _, seg := range strings.FieldsFunc(normalize(raw), isGroupSep) {
		items := strings.Fields(seg)
		if len(items) == 0 {
			continue
		}
		if mode == Smart {
			group++
		}
		for _, it := range items {
			if mode != Smart {
				group++
			}
			index++
			t := Token{Text: it, Group: group, Index: index}
			if !validChars(it) {
				problems = append(problems, &Problem{Kind: InvalidCharacter, Token: it, Group: group})
				continue
			}
			toks = append(toks, t)
		}
	}
	return toks, problems
}

func validChars(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}
