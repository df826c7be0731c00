package game

// FixedHandicapVertices returns the classical star-point placement for n
// handicap stones on a square board: corners first, then edge points, then
// the center. For 5 or 7 stones the last stone moves to the center.
func FixedHandicapVertices(n, size int) []Vertex {
	if n < 1 || n > 9 {
		return nil
	}
	i1 := 3
	if size <= 12 {
		i1 = 2
	}
	i2 := size / 2
	i3 := size - 1 - i1

	// Points as (row-from-top, col) pairs.
	all := [][2]int{
		{i1, i3}, {i3, i1}, {i3, i3}, {i1, i1}, // corners
		{i2, i3}, {i2, i1}, {i1, i2}, {i3, i2}, // edges
		{i2, i2}, // center
	}
	stars := all[:n]

	out := make([]Vertex, 0, n)
	for _, p := range stars {
		out = append(out, Vertex{Col: p[1], Row: size - 1 - p[0]})
	}
	if n == 5 || n == 7 {
		out[n-1] = Vertex{Col: i2, Row: size - 1 - i2}
	}
	return out
}
