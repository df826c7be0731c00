package sgf

import (
	"fmt"
	"strings"

	"kataigo/internal/domain/game"
)

// Record is a single-line game record, rendered on demand. Only the main
// line is kept; no variations.
type Record struct {
	Size     int
	Komi     float64
	Handicap []game.Move // placed before the first move, rendered as AB
	Moves    []game.Move
}

// String renders the record as an SGF game tree.
func (r *Record) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "(;FF[4]GM[1]SZ[%d]KM[%.1f]", r.Size, r.Komi)
	if len(r.Handicap) > 0 {
		sb.WriteString("AB")
		for _, m := range r.Handicap {
			fmt.Fprintf(&sb, "[%s]", coords(m.Vertex, r.Size))
		}
	}
	for _, m := range r.Moves {
		fmt.Fprintf(&sb, ";%s[%s]", m.Color, coords(m.Vertex, r.Size))
	}
	sb.WriteString(")")
	return sb.String()
}

// coords renders SGF point coordinates, counted from the top-left corner.
// A pass is an empty point per FF[4].
func coords(v game.Vertex, size int) string {
	if v.Pass {
		return ""
	}
	return string(rune('a'+v.Col)) + string(rune('a'+size-1-v.Row))
}
