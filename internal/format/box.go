package format

import (
	"strings"
	"unicode/utf8"
)

// minPromptWidth keeps prompt boxes readable in narrow terminals.
const minPromptWidth = 30

// PromptBox frames a session prompt for log output. Each returned line is
// indent followed by width columns; the frame is drawn dim and the title
// bold. Words longer than a line are split so the frame never breaks.
func PromptBox(p Palette, prompt, title, indent string, width int) []string {
	inner := width - 4
	if inner < minPromptWidth {
		inner = minPromptWidth
	}

	var body []string
	for _, para := range strings.Split(strings.TrimRight(prompt, "\n"), "\n") {
		body = append(body, wrapWords(para, inner)...)
	}

	rule := func(n int) string { return strings.Repeat("─", n) }
	top := p.Dim + "┌" + rule(inner+2) + "┐" + p.Reset
	if title != "" && runeLen(title)+3 <= inner {
		top = p.Dim + "┌─ " + p.Reset + p.Bold + title + p.Reset +
			p.Dim + " " + rule(inner-runeLen(title)-1) + "┐" + p.Reset
	}

	out := make([]string, 0, len(body)+2)
	out = append(out, indent+top)
	for _, line := range body {
		out = append(out, indent+p.Dim+"│"+p.Reset+" "+padOrTrunc(line, inner)+" "+p.Dim+"│"+p.Reset)
	}
	out = append(out, indent+p.Dim+"└"+rule(inner+2)+"┘"+p.Reset)
	return out
}

// wrapWords fills lines up to width runes. A blank paragraph yields one
// empty line.
func wrapWords(text string, width int) []string {
	var (
		lines []string
		cur   strings.Builder
		n     int
	)
	flush := func() {
		lines = append(lines, cur.String())
		cur.Reset()
		n = 0
	}
	for _, word := range strings.Fields(text) {
		for utf8.RuneCountInString(word) > width {
			if n > 0 {
				flush()
			}
			r := []rune(word)
			lines = append(lines, string(r[:width]))
			word = string(r[width:])
		}
		wl := utf8.RuneCountInString(word)
		switch {
		case n == 0:
		case n+1+wl <= width:
			cur.WriteByte(' ')
			n++
		default:
			flush()
		}
		cur.WriteString(word)
		n += wl
	}
	if n > 0 || len(lines) == 0 {
		flush()
	}
	return lines
}
