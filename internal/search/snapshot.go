package search

import (
	"sort"

	"kataigo/internal/domain/game"
	"kataigo/internal/tree"
)

// MoveStat is the per-edge view of the root used by analysis output.
type MoveStat struct {
	Move    game.Move   `json:"-"`
	Vertex  string      `json:"move"`
	Visits  int         `json:"visits"`
	Winrate float64     `json:"winrate"` // root player's perspective, [0, 1]
	Prior   float64     `json:"prior"`
	Order   int         `json:"order"`
	PV      []game.Move `json:"-"`
	PVText  []string    `json:"pv"`
}

type Snapshot struct {
	RootVisits int        `json:"root_visits"`
	ToMove     string     `json:"to_move"`
	Stats      []MoveStat `json:"stats"`
}

// Snapshot reads the root's edge statistics, most-visited first. Only edges
// with at least one visit appear; their order is the analysis order.
func (s *Scheduler) Snapshot() Snapshot {
	if s.tree == nil {
		return Snapshot{}
	}
	root := s.tree.Root()
	snap := Snapshot{
		RootVisits: s.tree.Visits(root),
		ToMove:     s.tree.ToMove(root).String(),
	}

	for _, ch := range s.tree.Children(root) {
		if s.tree.Visits(ch) == 0 {
			continue
		}
		mv := s.tree.MoveInto(ch)
		stat := MoveStat{
			Move:    mv,
			Vertex:  mv.Vertex.String(),
			Visits:  s.tree.Visits(ch),
			Winrate: (1 - s.tree.Mean(ch)) / 2,
			Prior:   s.tree.Prior(ch),
			PV:      s.principalVariation(ch),
		}
		for _, pm := range stat.PV {
			stat.PVText = append(stat.PVText, pm.Vertex.String())
		}
		snap.Stats = append(snap.Stats, stat)
	}

	sort.SliceStable(snap.Stats, func(i, j int) bool {
		a, b := snap.Stats[i], snap.Stats[j]
		if a.Visits != b.Visits {
			return a.Visits > b.Visits
		}
		if a.Winrate != b.Winrate {
			return a.Winrate > b.Winrate
		}
		return a.Move.Vertex.ScanIndex(s.size) < b.Move.Vertex.ScanIndex(s.size)
	})
	for i := range snap.Stats {
		snap.Stats[i].Order = i
	}
	return snap
}

// principalVariation follows the most-visited edge from the given node down.
func (s *Scheduler) principalVariation(from tree.Ref) []game.Move {
	pv := []game.Move{s.tree.MoveInto(from)}
	node := from
	for {
		next := s.bestChild(node)
		if !s.tree.Alive(next) {
			return pv
		}
		pv = append(pv, s.tree.MoveInto(next))
		node = next
	}
}
