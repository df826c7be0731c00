package errors

import "errors"

var (
	ErrIllegalMove     = errors.New("illegal move")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrSyntax          = errors.New("syntax error")
	ErrEvalTimeout     = errors.New("evaluation timed out")
	ErrEvaluatorClosed = errors.New("evaluator transport closed")
	ErrEvaluatorFailed = errors.New("evaluator returned an error")
	ErrNothingToUndo   = errors.New("cannot undo")
	ErrDeadNode        = errors.New("node was reclaimed")
)
