package patch

import (
	"strings"

	"github.com/kballard/go-shellquote"
)

type span struct {
	start, end int
	text       string
}

// scanTokens splits a command line on whitespace outside double quotes.
// Each token's text has its quotes removed for comparison.
func scanTokens(cmdline string) []span {
	var tokens []span
	inQuote := false
	start := -1
	var text strings.Builder

	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, span{start: start, end: end, text: text.String()})
			start = -1
			text.Reset()
		}
	}

	for i, r := range cmdline {
		switch {
		case r == '"':
			if start < 0 {
				start = i
			}
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t' || r == '\r' || r == '\n'):
			flush(i)
		default:
			if start < 0 {
				start = i
			}
			text.WriteRune(r)
		}
	}
	flush(len(cmdline))
	return tokens
}

// splitArg turns a strip argument into the token sequence it must match.
func splitArg(arg string) []string {
	words, err := shellquote.Split(arg)
	if err != nil || len(words) == 0 {
		return strings.Fields(arg)
	}
	return words
}

// StripTokens removes every whole-token occurrence of arg from cmdline.
// A multi-word arg matches only as a consecutive token run, so stripping
// "-f" never touches "-fullscreen" or "--f". Each removed run takes its
// leading separator with it; the result is trimmed.
func StripTokens(cmdline, arg string) string {
	want := splitArg(arg)
	if len(want) == 0 {
		return cmdline
	}
	tokens := scanTokens(cmdline)

	type cut struct{ from, to int }
	var cuts []cut
	for i := 0; i+len(want) <= len(tokens); {
		if !matchRun(tokens[i:i+len(want)], want) {
			i++
			continue
		}
		last := tokens[i+len(want)-1]
		switch {
		case i > 0:
			cuts = append(cuts, cut{from: tokens[i-1].end, to: last.end})
		case i+len(want) < len(tokens):
			cuts = append(cuts, cut{from: 0, to: tokens[i+len(want)].start})
		default:
			cuts = append(cuts, cut{from: 0, to: len(cmdline)})
		}
		i += len(want)
	}
	if len(cuts) == 0 {
		return cmdline
	}

	var b strings.Builder
	pos := 0
	for _, c := range cuts {
		if c.from < pos {
			c.from = pos
		}
		b.WriteString(cmdline[pos:c.from])
		pos = c.to
	}
	b.WriteString(cmdline[pos:])
	return strings.TrimSpace(b.String())
}

func matchRun(tokens []span, want []string) bool {
	for j, w := range want {
		if tokens[j].text != w {
			return false
		}
	}
	return true
}
