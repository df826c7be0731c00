package game

import "testing"

func TestParseVertexSkipsLetterI(t *testing.T) {
	v, err := ParseVertex("J1", 19)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Col != 8 || v.Row != 0 {
		t.Fatalf("expected J1 to be column 8 row 0, got %+v", v)
	}
	if _, err := ParseVertex("I1", 19); err == nil {
		t.Fatal("expected I1 to be rejected")
	}
}

func TestVertexStringRoundTrip(t *testing.T) {
	for _, name := range []string{"A1", "T19", "Q16", "K10", "pass"} {
		v, err := ParseVertex(name, 19)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		if got := v.String(); got != name {
			t.Fatalf("round trip %s -> %s", name, got)
		}
	}
}

func TestParseVertexRejectsOutOfRange(t *testing.T) {
	for _, name := range []string{"", "A", "A0", "A10", "K9", "Z3"} {
		if _, err := ParseVertex(name, 9); err == nil {
			t.Fatalf("expected %q to be rejected on a 9x9 board", name)
		}
	}
}

func TestVertexFromPolicyIndex(t *testing.T) {
	// Index 0 is the top-left corner: A19 on a 19x19 board.
	v := VertexFromPolicyIndex(0, 19, 19)
	if v.Col != 0 || v.Row != 18 || v.Pass {
		t.Fatalf("expected index 0 to map to A19, got %+v", v)
	}
	// The last in-board index is the bottom-right corner.
	v = VertexFromPolicyIndex(19*19-1, 19, 19)
	if v.Col != 18 || v.Row != 0 {
		t.Fatalf("expected last board index to map to T1, got %+v", v)
	}
	if !VertexFromPolicyIndex(19*19, 19, 19).Pass {
		t.Fatal("expected index w*h to map to pass")
	}
}

func TestScanIndexMatchesPolicyOrder(t *testing.T) {
	for k := 0; k <= 9*9; k++ {
		v := VertexFromPolicyIndex(k, 9, 9)
		if got := v.ScanIndex(9); got != k {
			t.Fatalf("index %d maps to %+v which scans back to %d", k, v, got)
		}
	}
}

func TestFixedHandicapFourStones(t *testing.T) {
	vs := FixedHandicapVertices(4, 19)
	want := []string{"Q16", "D4", "Q4", "D16"}
	if len(vs) != len(want) {
		t.Fatalf("expected %d stones, got %d", len(want), len(vs))
	}
	for i, v := range vs {
		if v.String() != want[i] {
			t.Fatalf("stone %d: expected %s, got %s", i, want[i], v.String())
		}
	}
}

func TestFixedHandicapFiveStonesEndsAtCenter(t *testing.T) {
	vs := FixedHandicapVertices(5, 19)
	if vs[4].String() != "K10" {
		t.Fatalf("expected fifth stone at the center, got %s", vs[4].String())
	}
	vs = FixedHandicapVertices(7, 19)
	if vs[6].String() != "K10" {
		t.Fatalf("expected seventh stone at the center, got %s", vs[6].String())
	}
}

func TestFixedHandicapSmallBoard(t *testing.T) {
	vs := FixedHandicapVertices(2, 9)
	want := []string{"G7", "C3"}
	for i, v := range vs {
		if v.String() != want[i] {
			t.Fatalf("stone %d: expected %s, got %s", i, want[i], v.String())
		}
	}
}

func TestFixedHandicapRejectsBadCounts(t *testing.T) {
	if FixedHandicapVertices(0, 19) != nil {
		t.Fatal("expected nil for zero stones")
	}
	if FixedHandicapVertices(10, 19) != nil {
		t.Fatal("expected nil for ten stones")
	}
}

func TestMoveWire(t *testing.T) {
	m := Move{Color: Black, Vertex: Vertex{Col: 15, Row: 15}}
	w := m.Wire()
	if w[0] != "B" || w[1] != "Q16" {
		t.Fatalf("unexpected wire form %v", w)
	}
	p := Move{Color: White, Vertex: PassVertex}
	w = p.Wire()
	if w[0] != "W" || w[1] != "PASS" {
		t.Fatalf("unexpected wire form for pass %v", w)
	}
}
