package format

import (
	"fmt"
	"io"

	"github.com/jensroland/git-attrib/internal/blame"
)

const (
	shortSHA  = 8
	whoWidth  = 22
	dateStamp = "2006-01-02"
)

// BlameLine writes one blame row:
//
//	<commit> <agent/model or author> <date> <line>) <text>
//
// Agent lines are highlighted; a relocated claim is marked with "~".
func BlameLine(w io.Writer, p Palette, l blame.Line, numWidth int) error {
	commit := Short(l.Commit)
	var who, color string
	if a := l.Attribution; a != nil {
		who = Agent(a.Agent, a.Model)
		if a.Confidence < 1 {
			who = "~" + who
		}
		color = p.Magenta
	} else {
		who = l.Author
		color = p.Dim
	}

	date := ""
	if !l.AuthorTime.IsZero() {
		date = l.AuthorTime.Format(dateStamp)
	}

	_, err := fmt.Fprintf(w, "%s%s%s %s%s%s %s %*d) %s\n",
		p.Yellow, commit, p.Reset,
		color, padOrTrunc(who, whoWidth), p.Reset,
		padOrTrunc(date, len(dateStamp)),
		numWidth, l.Number, l.Text)
	return err
}

// Agent labels a session's agent and model.
func Agent(agent, model string) string {
	if agent == "" {
		agent = "agent"
	}
	if model == "" {
		return agent
	}
	return agent + "/" + model
}

// Short abbreviates an object id.
func Short(oid string) string {
	if len(oid) > shortSHA {
		return oid[:shortSHA]
	}
	return oid
}

// NumberWidth is the column width needed for line numbers up to n.
func NumberWidth(n int) int {
	return len(fmt.Sprint(n))
}
