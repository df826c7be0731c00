package board

import (
	"fmt"
	"math/rand"

	"kataigo/internal/domain/game"
	kerr "kataigo/internal/errors"
)

// The board is a one-dimensional array with a sentinel ring of edge cells,
// so neighbor lookups are four fixed offsets and never need bounds checks.

type cell int8

const (
	empty cell = iota
	black
	white
	edge
)

const maxSize = 19

func colorCell(c game.Color) cell {
	if c == game.Black {
		return black
	}
	return white
}

func (c cell) color() game.Color {
	switch c {
	case black:
		return game.Black
	case white:
		return game.White
	}
	return game.Empty
}

// Zobrist keys are fixed at init so position hashes are stable across runs.
var (
	zobristStones [2][maxSize * maxSize]uint64
	zobristWhite  uint64
)

func init() {
	rng := rand.New(rand.NewSource(0x6b617461))
	for c := 0; c < 2; c++ {
		for i := range zobristStones[c] {
			zobristStones[c][i] = rng.Uint64()
		}
	}
	zobristWhite = rng.Uint64()
}

type Board struct {
	size    int
	width   int // size + 2, including the sentinel columns
	cells   []cell
	toMove  game.Color
	koPoint int // array index barred by simple ko, -1 if none
	passes  int // consecutive passes
	hash    uint64
}

func New(size int) (*Board, error) {
	if size < 2 || size > maxSize {
		return nil, fmt.Errorf("unacceptable size %d", size)
	}
	width := size + 2
	b := &Board{
		size:    size,
		width:   width,
		cells:   make([]cell, width*width),
		toMove:  game.Black,
		koPoint: -1,
	}
	for i := range b.cells {
		b.cells[i] = edge
	}
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			b.cells[b.index(col, row)] = empty
		}
	}
	return b, nil
}

func (b *Board) index(col, row int) int { return (row+1)*b.width + col + 1 }

func (b *Board) vertex(idx int) game.Vertex {
	return game.Vertex{Col: idx%b.width - 1, Row: idx/b.width - 1}
}

func (b *Board) stoneKey(idx int, c cell) uint64 {
	v := b.vertex(idx)
	return zobristStones[c-black][v.Row*maxSize+v.Col]
}

func (b *Board) Size() int          { return b.size }
func (b *Board) ToMove() game.Color { return b.toMove }
func (b *Board) Passes() int        { return b.passes }

func (b *Board) SetToMove(c game.Color) { b.toMove = c }

// Hash identifies the stone configuration plus the side to move.
func (b *Board) Hash() uint64 {
	if b.toMove == game.White {
		return b.hash ^ zobristWhite
	}
	return b.hash
}

func (b *Board) Clone() *Board {
	dup := *b
	dup.cells = append([]cell(nil), b.cells...)
	return &dup
}

func (b *Board) At(v game.Vertex) game.Color {
	return b.cells[b.index(v.Col, v.Row)].color()
}

// Terminal reports whether the game ended by two consecutive passes.
func (b *Board) Terminal() bool { return b.passes >= 2 }

// PlaceStone puts a stone on an empty point without capture mechanics.
// Used for handicap setup only.
func (b *Board) PlaceStone(v game.Vertex, c game.Color) error {
	idx := b.index(v.Col, v.Row)
	if b.cells[idx] != empty {
		return kerr.ErrIllegalMove
	}
	b.cells[idx] = colorCell(c)
	b.hash ^= b.stoneKey(idx, colorCell(c))
	return nil
}

// Play applies a move, removing captured stones. It rejects occupied points,
// suicide and simple-ko recaptures. The side to move flips to the opponent of
// the move's color regardless of whose turn it nominally was.
func (b *Board) Play(m game.Move) error {
	if m.Vertex.Pass {
		b.passes++
		b.koPoint = -1
		b.toMove = m.Color.Opponent()
		return nil
	}
	if m.Vertex.Col < 0 || m.Vertex.Col >= b.size || m.Vertex.Row < 0 || m.Vertex.Row >= b.size {
		return kerr.ErrIllegalMove
	}
	idx := b.index(m.Vertex.Col, m.Vertex.Row)
	if b.cells[idx] != empty {
		return kerr.ErrIllegalMove
	}
	if idx == b.koPoint {
		return kerr.ErrIllegalMove
	}

	own := colorCell(m.Color)
	opp := colorCell(m.Color.Opponent())
	b.cells[idx] = own

	captured := 0
	lastCaptured := -1
	for _, n := range b.neighbors(idx) {
		if b.cells[n] != opp {
			continue
		}
		group, libs := b.group(n)
		if libs == 0 {
			for _, g := range group {
				b.cells[g] = empty
				b.hash ^= b.stoneKey(g, opp)
				lastCaptured = g
			}
			captured += len(group)
		}
	}

	ownGroup, ownLibs := b.group(idx)
	if captured == 0 && ownLibs == 0 {
		b.cells[idx] = empty
		return kerr.ErrIllegalMove
	}

	b.hash ^= b.stoneKey(idx, own)
	b.koPoint = -1
	if captured == 1 && len(ownGroup) == 1 && ownLibs == 1 {
		b.koPoint = lastCaptured
	}
	b.passes = 0
	b.toMove = m.Color.Opponent()
	return nil
}

// Legal reports whether the move would be accepted by Play.
func (b *Board) Legal(m game.Move) bool {
	return b.Clone().Play(m) == nil
}

// LegalMoves lists every legal stone placement for c, in board-scan order
// from the top-left corner. Pass is always legal and not included.
func (b *Board) LegalMoves(c game.Color) []game.Vertex {
	out := make([]game.Vertex, 0, b.size*b.size)
	for row := b.size - 1; row >= 0; row-- {
		for col := 0; col < b.size; col++ {
			v := game.Vertex{Col: col, Row: row}
			if b.cells[b.index(col, row)] != empty {
				continue
			}
			if b.Legal(game.Move{Color: c, Vertex: v}) {
				out = append(out, v)
			}
		}
	}
	return out
}

// Score returns the area score from black's perspective: stones plus empty
// regions touching a single color, minus komi.
func (b *Board) Score(komi float64) float64 {
	var blackArea, whiteArea int
	seen := make([]bool, len(b.cells))
	for row := 0; row < b.size; row++ {
		for col := 0; col < b.size; col++ {
			idx := b.index(col, row)
			switch b.cells[idx] {
			case black:
				blackArea++
			case white:
				whiteArea++
			case empty:
				if seen[idx] {
					continue
				}
				region, touchesBlack, touchesWhite := b.emptyRegion(idx, seen)
				if touchesBlack && !touchesWhite {
					blackArea += len(region)
				} else if touchesWhite && !touchesBlack {
					whiteArea += len(region)
				}
			}
		}
	}
	return float64(blackArea) - float64(whiteArea) - komi
}

// TerminalValue scores a finished game as a value in [-1, 1] from the point
// of view of the player to move.
func (b *Board) TerminalValue(toMove game.Color, komi float64) float64 {
	score := b.Score(komi)
	if score == 0 {
		return 0
	}
	winner := game.White
	if score > 0 {
		winner = game.Black
	}
	if winner == toMove {
		return 1
	}
	return -1
}

func (b *Board) neighbors(idx int) [4]int {
	return [4]int{idx - 1, idx + 1, idx - b.width, idx + b.width}
}

// group flood-fills the chain containing idx and counts its liberties.
func (b *Board) group(idx int) ([]int, int) {
	target := b.cells[idx]
	stack := []int{idx}
	inGroup := map[int]bool{idx: true}
	libs := map[int]bool{}
	group := []int{}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		group = append(group, cur)
		for _, n := range b.neighbors(cur) {
			switch {
			case b.cells[n] == empty:
				libs[n] = true
			case b.cells[n] == target && !inGroup[n]:
				inGroup[n] = true
				stack = append(stack, n)
			}
		}
	}
	return group, len(libs)
}

func (b *Board) emptyRegion(idx int, seen []bool) ([]int, bool, bool) {
	stack := []int{idx}
	seen[idx] = true
	region := []int{}
	var touchesBlack, touchesWhite bool
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		region = append(region, cur)
		for _, n := range b.neighbors(cur) {
			switch b.cells[n] {
			case black:
				touchesBlack = true
			case white:
				touchesWhite = true
			case empty:
				if !seen[n] {
					seen[n] = true
					stack = append(stack, n)
				}
			}
		}
	}
	return region, touchesBlack, touchesWhite
}
