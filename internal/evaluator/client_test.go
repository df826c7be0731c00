package evaluator

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"kataigo/internal/domain/game"
	kerr "kataigo/internal/errors"
)

// chanTransport is an in-memory scorer: requests are captured, responses are
// whatever the test pushes into the channel.
type chanTransport struct {
	mu        sync.Mutex
	requests  []Query
	responses chan []byte
	closeOnce sync.Once
}

func newChanTransport() *chanTransport {
	return &chanTransport{responses: make(chan []byte, 16)}
}

func (t *chanTransport) WriteRequest(line []byte) error {
	var q Query
	if err := json.Unmarshal(line, &q); err != nil {
		return err
	}
	t.mu.Lock()
	t.requests = append(t.requests, q)
	t.mu.Unlock()
	return nil
}

func (t *chanTransport) ReadResponse() ([]byte, error) {
	line, ok := <-t.responses
	if !ok {
		return nil, kerr.ErrEvaluatorClosed
	}
	return line, nil
}

func (t *chanTransport) Close() error {
	t.closeOnce.Do(func() { close(t.responses) })
	return nil
}

func (t *chanTransport) lastRequest() Query {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[len(t.requests)-1]
}

func (t *chanTransport) respond(format string, args ...interface{}) {
	t.responses <- []byte(fmt.Sprintf(format, args...))
}

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

// pollUntil polls the client until it yields n resolved requests or the
// deadline passes. The reader goroutine delivers asynchronously, so tests
// have to wait it out.
func pollUntil(t *testing.T, c *Client, n int) []Resolved {
	t.Helper()
	var out []Resolved
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		out = append(out, c.Poll()...)
		if len(out) >= n {
			return out
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d resolved requests, got %d", n, len(out))
	return nil
}

func TestSubmitWritesAnalysisQuery(t *testing.T) {
	tr := newChanTransport()
	c := NewClient(tr, time.Second, testLogger())
	defer c.Close()
	c.SetBoardSize(9)
	c.SetKomi(6.5)
	c.SetRules("chinese")

	moves := []game.Move{{Color: game.Black, Vertex: game.Vertex{Col: 4, Row: 4}}}
	id, err := c.Submit(PositionQuery{Moves: moves, ToMove: game.White}, 3)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty request id")
	}
	q := tr.lastRequest()
	if q.ID != id {
		t.Fatalf("request id %s does not match returned id %s", q.ID, id)
	}
	if q.BoardXSize != 9 || q.BoardYSize != 9 || q.Komi != 6.5 || q.Rules != "chinese" {
		t.Fatalf("query carries wrong settings: %+v", q)
	}
	if q.MaxVisits != 1 || !q.IncludePolicy {
		t.Fatal("query must ask for a single raw visit with policy")
	}
	if len(q.Moves) != 1 || q.Moves[0] != [2]string{"B", "E5"} {
		t.Fatalf("unexpected move encoding: %v", q.Moves)
	}
	if c.PendingCount() != 1 {
		t.Fatalf("expected 1 pending request, got %d", c.PendingCount())
	}
}

func TestOutOfOrderCorrelation(t *testing.T) {
	tr := newChanTransport()
	c := NewClient(tr, time.Second, testLogger())
	defer c.Close()
	c.SetBoardSize(2)

	first, _ := c.Submit(PositionQuery{ToMove: game.Black}, 1)
	second, _ := c.Submit(PositionQuery{ToMove: game.Black}, 1)

	// The second request finishes first.
	tr.respond(`{"id":%q,"policy":[0.5,0.5,-1,-1,-1],"rootInfo":{"rawWinrate":0.9}}`, second)
	tr.respond(`{"id":%q,"policy":[0.5,0.5,-1,-1,-1],"rootInfo":{"rawWinrate":0.1}}`, first)

	got := pollUntil(t, c, 2)
	byID := map[string]Resolved{}
	for _, r := range got {
		byID[r.ID] = r
	}
	if byID[second].Result == nil || byID[second].Result.BlackWinrate != 0.9 {
		t.Fatalf("second request mismatched: %+v", byID[second])
	}
	if byID[first].Result == nil || byID[first].Result.BlackWinrate != 0.1 {
		t.Fatalf("first request mismatched: %+v", byID[first])
	}
	if c.PendingCount() != 0 {
		t.Fatalf("expected no pending requests, got %d", c.PendingCount())
	}
}

func TestValuePerspective(t *testing.T) {
	tr := newChanTransport()
	c := NewClient(tr, time.Second, testLogger())
	defer c.Close()
	c.SetBoardSize(2)

	id, _ := c.Submit(PositionQuery{ToMove: game.Black}, 1)
	tr.respond(`{"id":%q,"policy":[1,-1,-1,-1,-1],"rootInfo":{"rawWinrate":0.75}}`, id)
	got := pollUntil(t, c, 1)
	if got[0].Result.Value != 0.5 {
		t.Fatalf("black to move: expected value 0.5, got %v", got[0].Result.Value)
	}

	id, _ = c.Submit(PositionQuery{ToMove: game.White}, 1)
	tr.respond(`{"id":%q,"policy":[1,-1,-1,-1,-1],"rootInfo":{"rawWinrate":0.75}}`, id)
	got = pollUntil(t, c, 1)
	if got[0].Result.Value != -0.5 {
		t.Fatalf("white to move: expected value -0.5, got %v", got[0].Result.Value)
	}
}

func TestPolicyParsingDropsIllegalAndKeepsPass(t *testing.T) {
	tr := newChanTransport()
	c := NewClient(tr, time.Second, testLogger())
	defer c.Close()
	c.SetBoardSize(2)

	id, _ := c.Submit(PositionQuery{ToMove: game.Black}, 1)
	// Index 1 is illegal; index 4 is the pass move on a 2x2 board.
	tr.respond(`{"id":%q,"policy":[0.1,-1,0.2,0.3,0.4],"rootInfo":{"rawWinrate":0.5}}`, id)
	got := pollUntil(t, c, 1)
	priors := got[0].Result.Priors
	if len(priors) != 4 {
		t.Fatalf("expected 4 priors, got %d", len(priors))
	}
	// Policy index 0 is the top-left point A2.
	if priors[0].Vertex.String() != "A2" || priors[0].Prior != 0.1 {
		t.Fatalf("unexpected first prior: %+v", priors[0])
	}
	last := priors[len(priors)-1]
	if !last.Vertex.Pass || last.Prior != 0.4 {
		t.Fatalf("expected pass prior last, got %+v", last)
	}
}

func TestScorerErrorResolvesAsFailure(t *testing.T) {
	tr := newChanTransport()
	c := NewClient(tr, time.Second, testLogger())
	defer c.Close()

	id, _ := c.Submit(PositionQuery{ToMove: game.Black}, 7)
	tr.respond(`{"id":%q,"error":"field moves is garbage"}`, id)
	got := pollUntil(t, c, 1)
	if got[0].Err == nil || !errors.Is(got[0].Err, kerr.ErrEvaluatorFailed) {
		t.Fatalf("expected ErrEvaluatorFailed, got %v", got[0].Err)
	}
	if got[0].Generation != 7 {
		t.Fatalf("expected generation 7, got %d", got[0].Generation)
	}
}

func TestDeadlineExpiresPendingRequests(t *testing.T) {
	tr := newChanTransport()
	c := NewClient(tr, 10*time.Millisecond, testLogger())
	defer c.Close()

	id, _ := c.Submit(PositionQuery{ToMove: game.Black}, 1)
	time.Sleep(30 * time.Millisecond)
	got := c.Poll()
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("expected the request to expire, got %+v", got)
	}
	if !errors.Is(got[0].Err, kerr.ErrEvalTimeout) {
		t.Fatalf("expected ErrEvalTimeout, got %v", got[0].Err)
	}
	// A late response for an expired id is dropped silently.
	tr.respond(`{"id":%q,"policy":[1],"rootInfo":{"rawWinrate":0.5}}`, id)
	time.Sleep(20 * time.Millisecond)
	if extra := c.Poll(); len(extra) != 0 {
		t.Fatalf("late response must be dropped, got %+v", extra)
	}
}

func TestTransportDeathFailsEverything(t *testing.T) {
	tr := newChanTransport()
	c := NewClient(tr, time.Minute, testLogger())

	a, _ := c.Submit(PositionQuery{ToMove: game.Black}, 1)
	b, _ := c.Submit(PositionQuery{ToMove: game.Black}, 1)
	c.Close()

	got := pollUntil(t, c, 2)
	ids := map[string]bool{}
	for _, r := range got {
		if r.Err == nil {
			t.Fatalf("expected failure for %s", r.ID)
		}
		ids[r.ID] = true
	}
	if !ids[a] || !ids[b] {
		t.Fatal("both outstanding requests must resolve")
	}
	if _, err := c.Submit(PositionQuery{ToMove: game.Black}, 2); err == nil {
		t.Fatal("submit after transport death must fail")
	}
}

func TestAbandonDropsOlderGenerations(t *testing.T) {
	tr := newChanTransport()
	c := NewClient(tr, time.Minute, testLogger())
	defer c.Close()
	c.SetBoardSize(2)

	old, _ := c.Submit(PositionQuery{ToMove: game.Black}, 1)
	kept, _ := c.Submit(PositionQuery{ToMove: game.Black}, 2)
	c.Abandon(2)
	if c.PendingCount() != 1 {
		t.Fatalf("expected 1 pending request after abandon, got %d", c.PendingCount())
	}

	tr.respond(`{"id":%q,"policy":[1,-1,-1,-1,-1],"rootInfo":{"rawWinrate":0.5}}`, old)
	tr.respond(`{"id":%q,"policy":[1,-1,-1,-1,-1],"rootInfo":{"rawWinrate":0.5}}`, kept)
	got := pollUntil(t, c, 1)
	// Drain once more in case the abandoned response trails the kept one.
	time.Sleep(10 * time.Millisecond)
	got = append(got, c.Poll()...)
	if len(got) != 1 || got[0].ID != kept {
		t.Fatalf("expected only the kept request to resolve, got %+v", got)
	}
}

func TestInitialStonesForwarded(t *testing.T) {
	tr := newChanTransport()
	c := NewClient(tr, time.Second, testLogger())
	defer c.Close()
	c.SetBoardSize(9)
	c.SetInitialStones([]game.Move{
		{Color: game.Black, Vertex: game.Vertex{Col: 2, Row: 2}},
		{Color: game.Black, Vertex: game.Vertex{Col: 6, Row: 6}},
	})

	if _, err := c.Submit(PositionQuery{ToMove: game.White}, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	q := tr.lastRequest()
	if len(q.InitialStones) != 2 || q.InitialStones[0] != [2]string{"B", "C3"} {
		t.Fatalf("unexpected initial stones: %v", q.InitialStones)
	}
}
