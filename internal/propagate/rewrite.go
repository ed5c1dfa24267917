package propagate

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/jensroland/git-attrib/internal/record"
)

// Mapping says that commit New replaced the commits in Old, in order.
// Several olds occur when commits were squashed or fixed up.
type Mapping struct {
	New string
	Old []string
}

// Rewrite is one history rewrite reported by git.
type Rewrite struct {
	Op       record.Origin
	Mappings []Mapping
}

// ParseRewriteList reads the list git passes to the post-rewrite hook:
// one "<old> <new> [<extra>]" line per rewritten commit. Consecutive olds
// that map to the same new commit are grouped, keeping their order.
func ParseRewriteList(r io.Reader) ([]Mapping, error) {
	var out []Mapping
	index := make(map[string]int)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed rewrite line %q", line)
		}
		oldSHA, newSHA := fields[0], fields[1]
		if i, ok := index[newSHA]; ok {
			out[i].Old = append(out[i].Old, oldSHA)
			continue
		}
		index[newSHA] = len(out)
		out = append(out, Mapping{New: newSHA, Old: []string{oldSHA}})
	}
	return out, sc.Err()
}

// OriginFor names the operation that produced a mapping.
func OriginFor(op record.Origin, m Mapping) record.Origin {
	if len(m.Old) > 1 {
		return record.OriginSquash
	}
	if op == "" {
		return record.OriginRebase
	}
	return op
}
