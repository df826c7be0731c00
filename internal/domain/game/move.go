package game

import (
	"fmt"
	"strconv"
	"strings"
)

// Column letters in GTP board coordinates. "I" is skipped.
const columnLetters = "ABCDEFGHJKLMNOPQRST"

type Color int8

const (
	Empty Color = iota
	Black
	White
)

func (c Color) Opponent() Color {
	switch c {
	case Black:
		return White
	case White:
		return Black
	}
	return Empty
}

func (c Color) String() string {
	switch c {
	case Black:
		return "B"
	case White:
		return "W"
	}
	return "?"
}

func ParseColor(s string) (Color, error) {
	switch strings.ToLower(s) {
	case "b", "black":
		return Black, nil
	case "w", "white":
		return White, nil
	}
	return Empty, fmt.Errorf("invalid color %q", s)
}

// Vertex is a point on the board or a pass. Col and Row are zero-based,
// Row 0 is the bottom edge (GTP row 1).
type Vertex struct {
	Col  int
	Row  int
	Pass bool
}

var PassVertex = Vertex{Pass: true}

// String renders the vertex in GTP coordinates.
func (v Vertex) String() string {
	if v.Pass {
		return "pass"
	}
	return string(columnLetters[v.Col]) + strconv.Itoa(v.Row+1)
}

// ScanIndex orders vertices the way the evaluator's policy array does:
// row-major from the top-left corner, with pass sorted last.
func (v Vertex) ScanIndex(size int) int {
	if v.Pass {
		return size * size
	}
	return (size-1-v.Row)*size + v.Col
}

func ParseVertex(s string, size int) (Vertex, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "PASS" {
		return PassVertex, nil
	}
	if len(s) < 2 {
		return Vertex{}, fmt.Errorf("invalid vertex %q", s)
	}
	col := strings.IndexByte(columnLetters, s[0])
	if col < 0 || col >= size {
		return Vertex{}, fmt.Errorf("invalid vertex %q", s)
	}
	row, err := strconv.Atoi(s[1:])
	if err != nil || row < 1 || row > size {
		return Vertex{}, fmt.Errorf("invalid vertex %q", s)
	}
	return Vertex{Col: col, Row: row - 1}, nil
}

// VertexFromPolicyIndex maps an index into the evaluator's flat policy array
// to a vertex. The array is row-major from the top of the board; the entry at
// w*h is the pass move.
func VertexFromPolicyIndex(k, w, h int) Vertex {
	if k >= w*h {
		return PassVertex
	}
	return Vertex{Col: k % w, Row: h - 1 - k/w}
}

type Move struct {
	Color  Color
	Vertex Vertex
}

// Wire renders the move as the [color, location] pair the evaluator expects.
func (m Move) Wire() [2]string {
	return [2]string{m.Color.String(), strings.ToUpper(m.Vertex.String())}
}
