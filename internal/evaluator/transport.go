package evaluator

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"sync"

	kerr "kataigo/internal/errors"
)

// Transport is one line-oriented request/response channel to the external
// scorer. ReadResponse blocks until a line arrives or the channel dies.
type Transport interface {
	WriteRequest(line []byte) error
	ReadResponse() ([]byte, error)
	Close() error
}

// ProcessTransport spawns the scorer as a child process and talks to it over
// its stdin/stdout pipes. Stderr passes through so the scorer's own logging
// stays visible.
type ProcessTransport struct {
	cmd     *exec.Cmd
	mu      sync.Mutex
	stdin   *bufio.Writer
	stdinC  func() error
	scanner *bufio.Scanner
}

func NewProcessTransport(command []string) (*ProcessTransport, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty scorer command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stderr = os.Stderr

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	scanner := bufio.NewScanner(stdoutPipe)
	// Policy arrays make response lines large.
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start scorer: %w", err)
	}

	return &ProcessTransport{
		cmd:     cmd,
		stdin:   bufio.NewWriter(stdinPipe),
		stdinC:  stdinPipe.Close,
		scanner: scanner,
	}, nil
}

func (t *ProcessTransport) WriteRequest(line []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.stdin.Write(append(line, '\n')); err != nil {
		return err
	}
	return t.stdin.Flush()
}

func (t *ProcessTransport) ReadResponse() ([]byte, error) {
	if t.scanner.Scan() {
		return append([]byte(nil), t.scanner.Bytes()...), nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, kerr.ErrEvaluatorClosed
}

func (t *ProcessTransport) Close() error {
	_ = t.stdinC()
	return t.cmd.Wait()
}
