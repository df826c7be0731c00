package search

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"kataigo/internal/board"
	"kataigo/internal/domain/game"
	"kataigo/internal/evaluator"
	"kataigo/internal/tree"
)

// Evaluator is the narrow slice of the evaluation client the scheduler
// drives. Submissions never block on earlier results; Poll never blocks at
// all.
type Evaluator interface {
	Submit(pq evaluator.PositionQuery, generation uint64) (string, error)
	Poll() []evaluator.Resolved
	Abandon(generation uint64)
}

type Config struct {
	CPuct           float64
	MaxInFlight     int
	ResignThreshold float64 // root-perspective value below which we resign; <= -1 disables
	ResignMinVisits int
	PollInterval    time.Duration
}

func (c *Config) fillDefaults() {
	if c.CPuct == 0 {
		c.CPuct = 1.0
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 8
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Millisecond
	}
}

// Request is one search run over the current position.
type Request struct {
	Board       *board.Board
	History     []game.Move // moves from the empty board to Board
	ToMove      game.Color
	Komi        float64
	Deadline    time.Time // zero disables the time budget
	MaxPlayouts int       // completed playouts at the root; zero disables

	// Stop cancels the run from outside; may be nil.
	Stop <-chan struct{}

	Observer     func(Snapshot) // periodic root statistics, may be nil
	ObserveEvery time.Duration
}

type Decision struct {
	Move     game.Move
	Resign   bool
	Fallback bool // evaluator was unusable; Move is a uniform-random legal move
	Root     Snapshot
}

// Scheduler owns the search tree and is the only writer to it. The evaluator
// runs concurrently; the two meet only in the pending-request table and the
// completion queue inside the client, and the scheduler's drain-then-select
// ordering keeps every tree mutation single-threaded.
type Scheduler struct {
	log  *zap.SugaredLogger
	cfg  Config
	eval Evaluator

	tree       *tree.Tree
	generation uint64
	inflight   map[string][]tree.Ref
	size       int // board size of the position being searched

	rng *rand.Rand
}

func NewScheduler(cfg Config, eval Evaluator, log *zap.SugaredLogger) *Scheduler {
	cfg.fillDefaults()
	return &Scheduler{
		log:      log,
		cfg:      cfg,
		eval:     eval,
		inflight: make(map[string][]tree.Ref),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generation returns the fence tag current requests are issued under.
func (s *Scheduler) Generation() uint64 { return s.generation }

// Tree exposes the live search tree for inspection.
func (s *Scheduler) Tree() *tree.Tree { return s.tree }

// Discard throws the whole tree away and fences off everything in flight.
func (s *Scheduler) Discard() {
	s.generation++
	s.eval.Abandon(s.generation)
	s.inflight = make(map[string][]tree.Ref)
	s.tree = nil
}

// Advance moves the root to the child reached by mv, keeping its subtree and
// statistics. Sibling subtrees are reclaimed; if the child does not exist
// yet the tree is discarded and rebuilt on the next run.
func (s *Scheduler) Advance(mv game.Move) {
	if s.tree == nil {
		return
	}
	root := s.tree.Root()
	child := s.tree.Child(root, mv.Vertex)
	if !s.tree.Alive(child) || s.tree.MoveInto(child).Color != mv.Color {
		s.Discard()
		return
	}
	if err := s.tree.Reroot(child); err != nil {
		s.log.Warnw("reroot failed, discarding tree", "error", err)
		s.Discard()
	}
}

func (s *Scheduler) ensureRoot(toMove game.Color) {
	if s.tree != nil && s.tree.ToMove(s.tree.Root()) != toMove {
		s.Discard()
	}
	if s.tree == nil {
		s.tree = tree.New(toMove)
	}
}

type runState struct {
	req           Request
	failures      int
	transportDown bool
}

// Run drives selection, evaluation dispatch and backpropagation until the
// budget is spent, then picks a move.
func (s *Scheduler) Run(ctx context.Context, req Request) Decision {
	s.size = req.Board.Size()
	s.ensureRoot(req.ToMove)
	st := &runState{req: req}

	nextObserve := time.Now()
	for {
		drained := s.drainCompletions(st)

		if s.stopRequested(ctx, req) || s.budgetSpent(st) {
			break
		}

		issued := s.issueSelections(st)
		if issued == 0 && drained == 0 {
			time.Sleep(s.cfg.PollInterval)
		}

		if req.Observer != nil && time.Now().After(nextObserve) {
			req.Observer(s.Snapshot())
			nextObserve = time.Now().Add(req.ObserveEvery)
		}
	}

	return s.decide(st)
}

func (s *Scheduler) stopRequested(ctx context.Context, req Request) bool {
	select {
	case <-ctx.Done():
		return true
	default:
	}
	if req.Stop != nil {
		select {
		case <-req.Stop:
			return true
		default:
		}
	}
	return false
}

func (s *Scheduler) budgetSpent(st *runState) bool {
	root := s.tree.Root()
	visits := s.tree.Visits(root)

	if st.transportDown && len(s.inflight) == 0 {
		return true
	}
	if st.req.MaxPlayouts > 0 && visits >= st.req.MaxPlayouts {
		return true
	}
	if !st.req.Deadline.IsZero() && time.Now().After(st.req.Deadline) {
		// Hold out for at least one completed playout so genmove always has
		// something to act on, unless evaluations are failing anyway.
		if visits >= 1 || st.failures > 0 {
			return true
		}
	}
	// A forced move needs no further search.
	if s.tree.Expanded(root) && len(s.tree.Children(root)) == 1 && visits >= 1 {
		return true
	}
	return false
}

// drainCompletions applies every evaluation that resolved since the last
// pass: expansion first, then backpropagation along the recorded path.
// Results from a superseded generation never touch the tree.
func (s *Scheduler) drainCompletions(st *runState) int {
	applied := 0
	for _, r := range s.eval.Poll() {
		if r.Generation != s.generation {
			continue
		}
		path, ok := s.inflight[r.ID]
		if !ok {
			continue
		}
		delete(s.inflight, r.ID)

		if r.Err != nil {
			s.tree.ReleaseVirtualLoss(path)
			st.failures++
			s.log.Debugw("evaluation failed", "id", r.ID, "error", r.Err)
			continue
		}
		leaf := path[len(path)-1]
		if s.tree.Alive(leaf) && !s.tree.Expanded(leaf) && !s.tree.Terminal(leaf) {
			s.tree.Expand(leaf, edgePriors(r.Result.Priors))
		}
		s.tree.Backpropagate(path, r.Result.Value)
		applied++
	}
	return applied
}

// issueSelections walks fresh paths and submits evaluations until the
// in-flight window is full or the budget leaves no room for more.
func (s *Scheduler) issueSelections(st *runState) int {
	issued := 0
	for len(s.inflight) < s.cfg.MaxInFlight {
		if st.transportDown {
			break
		}
		if st.req.MaxPlayouts > 0 &&
			s.tree.Visits(s.tree.Root())+len(s.inflight) >= st.req.MaxPlayouts {
			break
		}

		path, leafBoard, moves, ok := s.selectPath(st.req)
		if !ok {
			break
		}
		leaf := path[len(path)-1]

		if s.tree.Terminal(leaf) {
			// Scored locally, no evaluator round trip.
			value := leafBoard.TerminalValue(s.tree.ToMove(leaf), st.req.Komi)
			s.tree.AddVirtualLoss(path)
			s.tree.Backpropagate(path, value)
			issued++
			continue
		}

		if s.tree.Pending(leaf) > 0 {
			// Evaluation already in flight for this leaf; adding another
			// would double-expand it. Wait for completions instead.
			break
		}

		s.tree.AddVirtualLoss(path)
		id, err := s.eval.Submit(evaluator.PositionQuery{
			Moves:  moves,
			ToMove: s.tree.ToMove(leaf),
		}, s.generation)
		if err != nil {
			s.tree.ReleaseVirtualLoss(path)
			st.failures++
			st.transportDown = true
			s.log.Warnw("evaluation submit failed", "error", err)
			break
		}
		s.inflight[id] = path
		issued++
	}
	return issued
}

// selectPath descends from the root by PUCT until it reaches an unexpanded
// or terminal node, replaying moves on a scratch board as it goes.
func (s *Scheduler) selectPath(req Request) ([]tree.Ref, *board.Board, []game.Move, bool) {
	b := req.Board.Clone()
	node := s.tree.Root()
	path := []tree.Ref{node}
	moves := append([]game.Move(nil), req.History...)

	if b.Terminal() {
		s.tree.MarkTerminal(node)
		return path, b, moves, true
	}

	for s.tree.Expanded(node) && !s.tree.Terminal(node) {
		excluded := map[tree.Ref]bool{}
		var next tree.Ref
		for {
			best, found := s.pickChild(node, excluded)
			if !found {
				// Every edge was rejected by the rules engine; nothing
				// useful to select below this node right now.
				return nil, nil, nil, false
			}
			mv := s.tree.MoveInto(best)
			if err := b.Play(mv); err != nil {
				// The evaluator considered this legal but the rules engine
				// disagrees (ko detail); skip the edge for this descent.
				excluded[best] = true
				continue
			}
			moves = append(moves, mv)
			next = best
			break
		}
		node = next
		path = append(path, node)
		if b.Terminal() {
			s.tree.MarkTerminal(node)
			break
		}
	}
	return path, b, moves, true
}

// pickChild maximizes Q + c_puct * P * sqrt(N_parent) / (1 + N + pending).
// Q is from the perspective of the player to move at the parent, so a
// child's mean flips sign; unvisited children fall back to the parent's own
// mean to avoid first-visit bias. Children are stored in board-scan order,
// which makes the argmax deterministic under ties.
func (s *Scheduler) pickChild(parent tree.Ref, excluded map[tree.Ref]bool) (tree.Ref, bool) {
	children := s.tree.Children(parent)
	parentMean := s.tree.Mean(parent)
	sqrtN := math.Sqrt(float64(s.tree.Visits(parent)))

	best := tree.NilRef
	bestScore := math.Inf(-1)
	found := false
	for _, ch := range children {
		if excluded[ch] {
			continue
		}
		q := parentMean
		if s.tree.Visits(ch) > 0 {
			q = -s.tree.Mean(ch)
		}
		denom := float64(1 + s.tree.Visits(ch) + s.tree.Pending(ch))
		score := q + s.cfg.CPuct*s.tree.Prior(ch)*sqrtN/denom
		if score > bestScore {
			bestScore = score
			best = ch
			found = true
		}
	}
	return best, found
}

// decide picks the move with the most visits; ties break on higher mean
// value, then on board-scan order. With no usable statistics at all it falls
// back to a uniform-random legal move rather than stalling.
func (s *Scheduler) decide(st *runState) Decision {
	root := s.tree.Root()
	best := s.bestChild(root)
	if !s.tree.Alive(best) {
		mv := s.fallbackMove(st.req)
		s.log.Warnw("no evaluated moves, falling back to random legal move",
			"failures", st.failures, "move", mv.Vertex.String())
		return Decision{Move: mv, Fallback: true, Root: s.Snapshot()}
	}

	rootValue := -s.tree.Mean(best)
	if s.cfg.ResignThreshold > -1 &&
		s.tree.Visits(best) >= s.cfg.ResignMinVisits &&
		rootValue < s.cfg.ResignThreshold {
		return Decision{Resign: true, Root: s.Snapshot()}
	}
	return Decision{Move: s.tree.MoveInto(best), Root: s.Snapshot()}
}

func (s *Scheduler) bestChild(parent tree.Ref) tree.Ref {
	size := s.size
	best := tree.NilRef
	for _, ch := range s.tree.Children(parent) {
		if s.tree.Visits(ch) == 0 && s.tree.Alive(best) {
			continue
		}
		if !s.tree.Alive(best) {
			if s.tree.Visits(ch) > 0 {
				best = ch
			}
			continue
		}
		switch {
		case s.tree.Visits(ch) > s.tree.Visits(best):
			best = ch
		case s.tree.Visits(ch) == s.tree.Visits(best):
			chMean, bestMean := -s.tree.Mean(ch), -s.tree.Mean(best)
			if chMean > bestMean {
				best = ch
			} else if chMean == bestMean &&
				s.tree.MoveInto(ch).Vertex.ScanIndex(size) < s.tree.MoveInto(best).Vertex.ScanIndex(size) {
				best = ch
			}
		}
	}
	return best
}

func (s *Scheduler) fallbackMove(req Request) game.Move {
	legal := req.Board.LegalMoves(req.ToMove)
	if len(legal) == 0 {
		return game.Move{Color: req.ToMove, Vertex: game.PassVertex}
	}
	return game.Move{Color: req.ToMove, Vertex: legal[s.rng.Intn(len(legal))]}
}

func edgePriors(priors []evaluator.MovePrior) []tree.EdgePrior {
	out := make([]tree.EdgePrior, 0, len(priors))
	for _, p := range priors {
		out = append(out, tree.EdgePrior{Vertex: p.Vertex, Prior: p.Prior})
	}
	return out
}
