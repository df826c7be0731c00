package evaluator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kataigo/internal/domain/game"
	kerr "kataigo/internal/errors"
)

// Resolved is one finished request handed back by Poll. Exactly one of
// Result and Err is set.
type Resolved struct {
	ID         string
	Generation uint64
	Result     *Result
	Err        error
}

type pendingRequest struct {
	generation  uint64
	toMove      game.Color
	submittedAt time.Time
}

// Client keeps the external scorer saturated: Submit writes a request and
// returns immediately, a reader goroutine parses whatever comes back, and
// Poll hands out completed results matched purely by request id. Responses
// may arrive in any order.
type Client struct {
	log      *zap.SugaredLogger
	tr       Transport
	deadline time.Duration

	mu       sync.Mutex
	pending  map[string]pendingRequest
	fatalErr error
	closed   bool

	arrivals chan *response

	// query parameters, fixed between games
	rules         string
	komi          float64
	boardX        int
	boardY        int
	initialStones []game.Move
}

func NewClient(tr Transport, deadline time.Duration, log *zap.SugaredLogger) *Client {
	c := &Client{
		log:      log,
		tr:       tr,
		deadline: deadline,
		pending:  make(map[string]pendingRequest),
		arrivals: make(chan *response, 256),
		rules:    "tromp-taylor",
		komi:     7.5,
		boardX:   19,
		boardY:   19,
	}
	go c.listenForResponses()
	return c
}

func (c *Client) SetBoardSize(size int) { c.boardX, c.boardY = size, size }
func (c *Client) SetKomi(komi float64)  { c.komi = komi }
func (c *Client) SetRules(rules string) { c.rules = rules }

func (c *Client) SetInitialStones(stones []game.Move) {
	c.initialStones = append([]game.Move(nil), stones...)
}

func (c *Client) BoardSize() int { return c.boardX }
func (c *Client) Komi() float64  { return c.komi }

// listenForResponses reads the scorer's output until the channel dies, then
// records the failure so Poll can resolve every outstanding request.
func (c *Client) listenForResponses() {
	for {
		line, err := c.tr.ReadResponse()
		if err != nil {
			c.mu.Lock()
			if c.fatalErr == nil {
				c.fatalErr = err
			}
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.log.Warnw("scorer channel died", "error", err)
			}
			close(c.arrivals)
			return
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.log.Errorw("unparsable scorer response", "error", err, "line", string(line))
			continue
		}
		c.arrivals <- &resp
	}
}

// Submit serializes the position and writes the request without waiting for
// any earlier request to finish. The returned id correlates the eventual
// response.
func (c *Client) Submit(pq PositionQuery, generation uint64) (string, error) {
	c.mu.Lock()
	if c.fatalErr != nil {
		err := c.fatalErr
		c.mu.Unlock()
		return "", fmt.Errorf("scorer unavailable: %w", err)
	}
	c.mu.Unlock()

	id := uuid.New().String()
	q := Query{
		ID:            id,
		Moves:         wireMoves(pq.Moves),
		InitialStones: wireMoves(c.initialStones),
		Rules:         c.rules,
		Komi:          c.komi,
		BoardXSize:    c.boardX,
		BoardYSize:    c.boardY,
		MaxVisits:     1,
		IncludePolicy: true,
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("marshal query: %w", err)
	}

	c.mu.Lock()
	c.pending[id] = pendingRequest{
		generation:  generation,
		toMove:      pq.ToMove,
		submittedAt: time.Now(),
	}
	c.mu.Unlock()

	if err := c.tr.WriteRequest(payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		if c.fatalErr == nil {
			c.fatalErr = err
		}
		c.mu.Unlock()
		return "", fmt.Errorf("write query: %w", err)
	}
	return id, nil
}

// Poll returns whatever has finished since the last call, never blocking.
// Requests older than the configured deadline resolve as failures, and a
// dead channel fails everything still outstanding.
func (c *Client) Poll() []Resolved {
	var out []Resolved

	for {
		var resp *response
		select {
		case r, ok := <-c.arrivals:
			if !ok {
				resp = nil
			} else {
				resp = r
			}
		default:
		}
		if resp == nil {
			break
		}

		c.mu.Lock()
		pr, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if !ok {
			// Abandoned or expired earlier; drop the late arrival.
			c.log.Debugw("response for unknown request id", "id", resp.ID)
			continue
		}
		if resp.Error != "" {
			out = append(out, Resolved{
				ID:         resp.ID,
				Generation: pr.generation,
				Err:        fmt.Errorf("%w: %s", kerr.ErrEvaluatorFailed, resp.Error),
			})
			continue
		}
		out = append(out, Resolved{
			ID:         resp.ID,
			Generation: pr.generation,
			Result:     resultFromResponse(resp, c.boardX, c.boardY, pr.toMove),
		})
	}

	now := time.Now()
	c.mu.Lock()
	if c.fatalErr != nil {
		for id, pr := range c.pending {
			out = append(out, Resolved{ID: id, Generation: pr.generation, Err: c.fatalErr})
			delete(c.pending, id)
		}
	} else if c.deadline > 0 {
		for id, pr := range c.pending {
			if now.Sub(pr.submittedAt) > c.deadline {
				out = append(out, Resolved{ID: id, Generation: pr.generation, Err: kerr.ErrEvalTimeout})
				delete(c.pending, id)
			}
		}
	}
	c.mu.Unlock()

	return out
}

// Abandon drops every outstanding request from generations before gen. Their
// responses, if they ever arrive, are discarded in Poll.
func (c *Client) Abandon(gen uint64) {
	c.mu.Lock()
	for id, pr := range c.pending {
		if pr.generation < gen {
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()
}

func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.tr.Close()
}

func wireMoves(moves []game.Move) [][2]string {
	out := make([][2]string, 0, len(moves))
	for _, m := range moves {
		out = append(out, m.Wire())
	}
	return out
}
