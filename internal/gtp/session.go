package gtp

// Minimal GTP engine surface.
// (cf.) https://www.lysator.liu.se/~gunnar/gtp/gtp2-spec-draft2/gtp2-spec.html

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"kataigo/internal/board"
	"kataigo/internal/domain/game"
	"kataigo/internal/domain/sgf"
	kerr "kataigo/internal/errors"
	"kataigo/internal/search"
)

const protocolVersion = "2"

// Evaluator is what the session needs from the evaluation client: the query
// parameters that GTP commands adjust between searches.
type Evaluator interface {
	SetBoardSize(size int)
	SetKomi(komi float64)
	SetInitialStones(stones []game.Move)
}

// GameStore persists the game record. A nil store disables persistence.
type GameStore interface {
	StartGame()
	SaveLive(ctx context.Context, rec *sgf.Record) error
	Archive(ctx context.Context, rec *sgf.Record) error
}

type handler func(args []string) (result string, follow func(ctx context.Context), err error)

// Session owns the board, the move history and the search scheduler for one
// GTP conversation. All state is per-session; nothing global.
type Session struct {
	log     *zap.SugaredLogger
	name    string
	version string

	out   io.Writer
	lines chan string
	stash []string // lines read ahead of the main loop (by lz-analyze)

	board      *board.Board
	history    []game.Move
	handicap   []game.Move
	size       int
	komi       float64
	genmoveSec float64

	sched    *search.Scheduler
	eval     Evaluator
	store    GameStore
	observer func(search.Snapshot)

	table map[string]handler
}

type Options struct {
	Name           string
	Version        string
	BoardSize      int
	Komi           float64
	GenmoveSeconds float64
	Store          GameStore             // optional
	Observer       func(search.Snapshot) // optional, fed during analysis
}

func NewSession(opts Options, sched *search.Scheduler, eval Evaluator, out io.Writer, log *zap.SugaredLogger) (*Session, error) {
	b, err := board.New(opts.BoardSize)
	if err != nil {
		return nil, err
	}
	s := &Session{
		log:        log,
		name:       opts.Name,
		version:    opts.Version,
		out:        out,
		board:      b,
		size:       opts.BoardSize,
		komi:       opts.Komi,
		genmoveSec: opts.GenmoveSeconds,
		sched:      sched,
		eval:       eval,
		store:      opts.Store,
		observer:   opts.Observer,
	}
	s.eval.SetBoardSize(s.size)
	s.eval.SetKomi(s.komi)
	s.table = map[string]handler{
		"protocol_version": s.handleProtocolVersion,
		"name":             s.handleName,
		"version":          s.handleVersion,
		"known_command":    s.handleKnownCommand,
		"list_commands":    s.handleListCommands,
		"quit":             s.handleQuit,
		"boardsize":        s.handleBoardsize,
		"clear_board":      s.handleClearBoard,
		"komi":             s.handleKomi,
		"play":             s.handlePlay,
		"genmove":          s.handleGenmove,
		"undo":             s.handleUndo,
		"lz-analyze":       s.handleLzAnalyze,
		"time_settings":    s.handleTimeSettings,
		"fixed_handicap":   s.handleFixedHandicap,
	}
	return s, nil
}

// Run reads GTP commands until EOF or quit. Input flows through a channel so
// the analysis loop can notice a pending command without consuming it.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	s.lines = make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			s.lines <- scanner.Text()
		}
		close(s.lines)
	}()

	for {
		line, ok := s.nextLine()
		if !ok {
			return nil
		}
		cmd := s.execute(ctx, line)
		if cmd == "quit" {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Session) nextLine() (string, bool) {
	if len(s.stash) > 0 {
		line := s.stash[0]
		s.stash = s.stash[1:]
		return line, true
	}
	line, ok := <-s.lines
	return line, ok
}

// execute runs one command line and writes the response. Returns the command
// name, empty for blank lines.
func (s *Session) execute(ctx context.Context, line string) string {
	id, cmd, args := parse(line)
	if cmd == "" {
		return ""
	}

	h, ok := s.table[cmd]
	if !ok {
		fmt.Fprintf(s.out, "?%s %s\n\n", id, kerr.ErrUnknownCommand.Error())
		return cmd
	}
	result, follow, err := h(args)
	if err != nil {
		fmt.Fprintf(s.out, "?%s %s\n\n", id, err.Error())
		return cmd
	}
	fmt.Fprintf(s.out, "=%s %s\n", id, result)
	if follow != nil {
		follow(ctx)
	}
	fmt.Fprintln(s.out)
	return cmd
}

// parse splits a command line into the optional numeric id, the command and
// its arguments.
func parse(line string) (id, cmd string, args []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", "", nil
	}
	if _, err := strconv.Atoi(fields[0]); err == nil {
		id = fields[0]
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return id, "", nil
	}
	return id, fields[0], fields[1:]
}

// ---------------------------------------------------------------------------
// command handlers

func (s *Session) handleProtocolVersion(args []string) (string, func(context.Context), error) {
	return protocolVersion, nil, nil
}

func (s *Session) handleName(args []string) (string, func(context.Context), error) {
	return s.name, nil, nil
}

func (s *Session) handleVersion(args []string) (string, func(context.Context), error) {
	return s.version, nil, nil
}

func (s *Session) handleKnownCommand(args []string) (string, func(context.Context), error) {
	if len(args) != 1 {
		return "", nil, kerr.ErrSyntax
	}
	if _, ok := s.table[args[0]]; ok {
		return "true", nil, nil
	}
	return "false", nil, nil
}

func (s *Session) handleListCommands(args []string) (string, func(context.Context), error) {
	names := make([]string, 0, len(s.table))
	for name := range s.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil, nil
}

func (s *Session) handleQuit(args []string) (string, func(context.Context), error) {
	s.archiveGame()
	return "", nil, nil
}

func (s *Session) handleBoardsize(args []string) (string, func(context.Context), error) {
	if len(args) != 1 {
		return "", nil, kerr.ErrSyntax
	}
	size, err := strconv.Atoi(args[0])
	if err != nil {
		return "", nil, kerr.ErrSyntax
	}
	b, err := board.New(size)
	if err != nil {
		return "", nil, fmt.Errorf("unacceptable size")
	}
	s.size = size
	s.board = b
	s.history = nil
	s.handicap = nil
	s.eval.SetBoardSize(size)
	s.eval.SetInitialStones(nil)
	s.sched.Discard()
	return "", nil, nil
}

func (s *Session) handleClearBoard(args []string) (string, func(context.Context), error) {
	s.archiveGame()
	b, err := board.New(s.size)
	if err != nil {
		return "", nil, err
	}
	s.board = b
	s.history = nil
	s.handicap = nil
	s.eval.SetInitialStones(nil)
	s.sched.Discard()
	if s.store != nil {
		s.store.StartGame()
	}
	return "", nil, nil
}

func (s *Session) handleKomi(args []string) (string, func(context.Context), error) {
	if len(args) != 1 {
		return "", nil, kerr.ErrSyntax
	}
	komi, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return "", nil, kerr.ErrSyntax
	}
	if 2*komi != math.Trunc(2*komi) {
		return "", nil, fmt.Errorf("unacceptable komi %q", args[0])
	}
	s.komi = komi
	s.eval.SetKomi(komi)
	return "", nil, nil
}

func (s *Session) handlePlay(args []string) (string, func(context.Context), error) {
	if len(args) != 2 {
		return "", nil, kerr.ErrSyntax
	}
	color, err := game.ParseColor(args[0])
	if err != nil {
		return "", nil, kerr.ErrSyntax
	}
	vertex, err := game.ParseVertex(args[1], s.size)
	if err != nil {
		return "", nil, kerr.ErrSyntax
	}
	mv := game.Move{Color: color, Vertex: vertex}
	if err := s.board.Play(mv); err != nil {
		return "", nil, kerr.ErrIllegalMove
	}
	s.history = append(s.history, mv)
	s.sched.Advance(mv)
	s.saveGame()
	return "", nil, nil
}

func (s *Session) handleGenmove(args []string) (string, func(context.Context), error) {
	if len(args) != 1 {
		return "", nil, kerr.ErrSyntax
	}
	color, err := game.ParseColor(args[0])
	if err != nil {
		return "", nil, kerr.ErrSyntax
	}

	decision := s.sched.Run(context.Background(), search.Request{
		Board:    s.board,
		History:  s.history,
		ToMove:   color,
		Komi:     s.komi,
		Deadline: time.Now().Add(time.Duration(s.genmoveSec * float64(time.Second))),
	})
	if decision.Resign {
		return "resign", nil, nil
	}

	mv := decision.Move
	if err := s.board.Play(mv); err != nil {
		// The chosen move should always be legal; fail the command rather
		// than desynchronize board and history.
		s.log.Errorw("generated move rejected by rules engine", "move", mv.Vertex.String(), "error", err)
		return "", nil, kerr.ErrIllegalMove
	}
	s.history = append(s.history, mv)
	s.sched.Advance(mv)
	s.saveGame()
	return mv.Vertex.String(), nil, nil
}

func (s *Session) handleUndo(args []string) (string, func(context.Context), error) {
	if len(s.history) == 0 {
		return "", nil, kerr.ErrNothingToUndo
	}
	s.history = s.history[:len(s.history)-1]
	if err := s.rebuildBoard(); err != nil {
		return "", nil, err
	}
	s.sched.Discard()
	return "", nil, nil
}

func (s *Session) handleTimeSettings(args []string) (string, func(context.Context), error) {
	if len(args) != 3 {
		return "", nil, kerr.ErrSyntax
	}
	mainTime, err1 := strconv.Atoi(args[0])
	byoTime, err2 := strconv.Atoi(args[1])
	byoStones, err3 := strconv.Atoi(args[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "", nil, kerr.ErrSyntax
	}
	perMove := float64(mainTime) / 400
	if byoStones > 0 {
		if t := float64(byoTime) / float64(byoStones) * 0.9; t > perMove {
			perMove = t
		}
	}
	s.genmoveSec = perMove
	return "", nil, nil
}

func (s *Session) handleFixedHandicap(args []string) (string, func(context.Context), error) {
	if len(args) != 1 {
		return "", nil, kerr.ErrSyntax
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return "", nil, kerr.ErrSyntax
	}
	if len(s.history) > 0 || len(s.handicap) > 0 {
		return "", nil, fmt.Errorf("board not empty")
	}
	vertices := game.FixedHandicapVertices(n, s.size)
	if vertices == nil {
		return "", nil, fmt.Errorf("invalid number of stones")
	}
	locations := make([]string, 0, n)
	for _, v := range vertices {
		if err := s.board.PlaceStone(v, game.Black); err != nil {
			return "", nil, err
		}
		s.handicap = append(s.handicap, game.Move{Color: game.Black, Vertex: v})
		locations = append(locations, v.String())
	}
	s.board.SetToMove(game.White)
	s.eval.SetInitialStones(s.handicap)
	s.sched.Discard()
	return strings.Join(locations, " "), nil, nil
}

func (s *Session) handleLzAnalyze(args []string) (string, func(context.Context), error) {
	color, interval, err := parseAnalyzeArgs(args, s.board.ToMove())
	if err != nil {
		return "", nil, kerr.ErrSyntax
	}
	follow := func(ctx context.Context) {
		s.analyze(ctx, color, interval)
	}
	return "", follow, nil
}

// parseAnalyzeArgs accepts [color] [interval] <centiseconds>.
func parseAnalyzeArgs(args []string, defaultColor game.Color) (game.Color, time.Duration, error) {
	color := defaultColor
	interval := time.Duration(0)
	rest := args
	if len(rest) > 0 {
		if c, err := game.ParseColor(rest[0]); err == nil {
			color = c
			rest = rest[1:]
		}
	}
	if len(rest) > 0 && strings.EqualFold(rest[0], "interval") {
		rest = rest[1:]
	}
	if len(rest) > 0 {
		cs, err := strconv.Atoi(rest[0])
		if err != nil || cs < 0 {
			return color, 0, kerr.ErrSyntax
		}
		interval = time.Duration(cs) * 10 * time.Millisecond
		rest = rest[1:]
	}
	if len(rest) > 0 {
		return color, 0, kerr.ErrSyntax
	}
	return color, interval, nil
}

// analyze searches and streams root statistics until the next command line
// arrives; the line is stashed for the main loop.
func (s *Session) analyze(ctx context.Context, color game.Color, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		s.sched.Run(ctx, search.Request{
			Board:   s.board,
			History: s.history,
			ToMove:  color,
			Komi:    s.komi,
			Stop:    stop,
			Observer: func(snap search.Snapshot) {
				if len(snap.Stats) > 0 {
					fmt.Fprintln(s.out, lzAnalyzeLine(snap))
				}
				if s.observer != nil {
					s.observer(snap)
				}
			},
			ObserveEvery: interval,
		})
	}()

	select {
	case line, ok := <-s.lines:
		if ok {
			s.stash = append(s.stash, line)
		}
	case <-ctx.Done():
	}
	close(stop)
	<-done
}

// lzAnalyzeLine renders one lz-analyze info line, all values scaled to
// integers the way Lizzie expects.
func lzAnalyzeLine(snap search.Snapshot) string {
	parts := make([]string, 0, len(snap.Stats))
	for _, st := range snap.Stats {
		parts = append(parts, strings.Join([]string{
			"info",
			"move", st.Vertex,
			"visits", strconv.Itoa(st.Visits),
			"winrate", strconv.Itoa(lzInteger(st.Winrate)),
			"prior", strconv.Itoa(lzInteger(st.Prior)),
			"order", strconv.Itoa(st.Order),
			"pv", strings.Join(st.PVText, " "),
		}, " "))
	}
	return strings.Join(parts, " ")
}

func lzInteger(x float64) int {
	return int(math.Round(x * 10000))
}

// ---------------------------------------------------------------------------
// game state helpers

func (s *Session) rebuildBoard() error {
	b, err := board.New(s.size)
	if err != nil {
		return err
	}
	for _, m := range s.handicap {
		if err := b.PlaceStone(m.Vertex, m.Color); err != nil {
			return err
		}
	}
	if len(s.handicap) > 0 {
		b.SetToMove(game.White)
	}
	for _, m := range s.history {
		if err := b.Play(m); err != nil {
			return err
		}
	}
	s.board = b
	return nil
}

func (s *Session) record() *sgf.Record {
	return &sgf.Record{
		Size:     s.size,
		Komi:     s.komi,
		Handicap: append([]game.Move(nil), s.handicap...),
		Moves:    append([]game.Move(nil), s.history...),
	}
}

func (s *Session) saveGame() {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.store.SaveLive(ctx, s.record()); err != nil {
		s.log.Warnw("failed to save game record", "error", err)
	}
}

func (s *Session) archiveGame() {
	if s.store == nil || len(s.history) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.store.Archive(ctx, s.record()); err != nil {
		s.log.Warnw("failed to archive game record", "error", err)
	}
}
