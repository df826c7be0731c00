package evaluator

import (
	"sort"

	"kataigo/internal/domain/game"
)

// Query is the request shape of KataGo's analysis engine. One position per
// query, one visit, raw policy included so it can seed search priors.
// https://github.com/lightvector/KataGo/blob/master/docs/Analysis_Engine.md
type Query struct {
	ID            string      `json:"id"`
	Moves         [][2]string `json:"moves"`
	InitialStones [][2]string `json:"initialStones"`
	Rules         string      `json:"rules"`
	Komi          float64     `json:"komi"`
	BoardXSize    int         `json:"boardXSize"`
	BoardYSize    int         `json:"boardYSize"`
	MaxVisits     int         `json:"maxVisits"`
	IncludePolicy bool        `json:"includePolicy"`
}

type rootInfo struct {
	RawWinrate float64 `json:"rawWinrate"`
	RawLead    float64 `json:"rawLead"`
	Visits     int     `json:"visits"`
}

type response struct {
	ID       string    `json:"id"`
	Error    string    `json:"error"`
	Policy   []float64 `json:"policy"`
	RootInfo rootInfo  `json:"rootInfo"`
}

// MovePrior is one legal move with the policy mass the evaluator assigned
// to it.
type MovePrior struct {
	Vertex game.Vertex
	Prior  float64
}

// Result is one completed evaluation. Value is in [-1, 1] from the
// perspective of the player to move at the queried position.
type Result struct {
	Value        float64
	BlackWinrate float64
	Lead         float64
	Priors       []MovePrior
}

// PositionQuery describes the position to evaluate: the full move sequence
// from the empty board plus whose turn it is at the end of it.
type PositionQuery struct {
	Moves  []game.Move
	ToMove game.Color
}

// resultFromResponse converts a raw response. Negative policy entries mark
// illegal moves and are dropped; the rest come back sorted in policy-array
// order, which is the deterministic move ordering used throughout.
func resultFromResponse(resp *response, w, h int, toMove game.Color) *Result {
	priors := make([]MovePrior, 0, len(resp.Policy))
	for k, p := range resp.Policy {
		if p < 0 {
			continue
		}
		priors = append(priors, MovePrior{Vertex: game.VertexFromPolicyIndex(k, w, h), Prior: p})
	}
	sort.SliceStable(priors, func(i, j int) bool {
		return priors[i].Vertex.ScanIndex(w) < priors[j].Vertex.ScanIndex(w)
	})

	// rawWinrate is black's winrate; flip for white to move.
	value := 2*resp.RootInfo.RawWinrate - 1
	if toMove == game.White {
		value = -value
	}
	return &Result{
		Value:        value,
		BlackWinrate: resp.RootInfo.RawWinrate,
		Lead:         resp.RootInfo.RawLead,
		Priors:       priors,
	}
}
