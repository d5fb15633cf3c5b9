// Package command parses the dock's single input line into intents.
// A handful of fixed one- and two-letter verbs take priority; any line
// that doesn't match a verb exactly becomes a new task with the line as
// its text. Positions are zero-based, front first.
package command

import (
	"strconv"
	"strings"

	"github.com/todoproxy/dock/internal/api"
)

// Intent is one parsed command. The concrete types below are the full
// closed set; callers switch exhaustively.
type Intent interface {
	intent()
}

// FinishFront finishes the front-most live task with the given status.
type FinishFront struct {
	Status api.TaskStatus
}

// RestoreRecent restores the most recently finished task to the front.
type RestoreRecent struct{}

// Move relocates the live task at From to just before position To.
type Move struct {
	From int
	To   int
}

// Reverse reverses the live range between positions I and J inclusive.
type Reverse struct {
	I int
	J int
}

// ToBack sends the live task at Pos to the back of the list.
type ToBack struct {
	Pos int
}

// ToggleFinished switches the list view between live and finished tasks.
type ToggleFinished struct{}

// Collapse closes the expanded dock.
type Collapse struct{}

// NewTask creates a live task whose text is the full input line.
type NewTask struct {
	Text string
}

// NoOp is produced for blank input and for verbs whose positions fall
// outside the current list. Not an error.
type NoOp struct{}

func (FinishFront) intent()    {}
func (RestoreRecent) intent()  {}
func (Move) intent()           {}
func (Reverse) intent()        {}
func (ToBack) intent()         {}
func (ToggleFinished) intent() {}
func (Collapse) intent()       {}
func (NewTask) intent()        {}
func (NoOp) intent()           {}

// Parse interprets one input line against a live list of the given
// length. Verb forms that don't match exactly (wrong arity, non-numeric
// positions) fall through to NewTask; matching verbs with out-of-range
// positions degrade to NoOp.
func Parse(line string, liveLen int) Intent {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return NoOp{}
	}

	fields := strings.Fields(trimmed)
	switch fields[0] {
	case "s":
		if len(fields) == 1 {
			return finishFront(liveLen, api.StatusSucceeded)
		}
	case "f":
		if len(fields) == 1 {
			return finishFront(liveLen, api.StatusFailed)
		}
	case "o":
		if len(fields) == 1 {
			return finishFront(liveLen, api.StatusObsoleted)
		}
	case "r":
		if len(fields) == 1 {
			return RestoreRecent{}
		}
	case "t":
		if len(fields) == 1 {
			return ToggleFinished{}
		}
	case "c":
		if len(fields) == 1 {
			return Collapse{}
		}
	case "mv":
		// mv i j; mv i moves to the front; bare mv swaps the top two.
		switch len(fields) {
		case 1:
			return move(0, 1, liveLen)
		case 2:
			if i, ok := pos(fields[1]); ok {
				return move(i, 0, liveLen)
			}
		case 3:
			i, iok := pos(fields[1])
			j, jok := pos(fields[2])
			if iok && jok {
				return move(i, j, liveLen)
			}
		}
	case "rev":
		// rev i j; rev i reverses down to the front.
		switch len(fields) {
		case 2:
			if i, ok := pos(fields[1]); ok {
				return reverse(i, 0, liveLen)
			}
		case 3:
			i, iok := pos(fields[1])
			j, jok := pos(fields[2])
			if iok && jok {
				return reverse(i, j, liveLen)
			}
		}
	case "q":
		// q i; bare q sends the front task to the back.
		switch len(fields) {
		case 1:
			return toBack(0, liveLen)
		case 2:
			if i, ok := pos(fields[1]); ok {
				return toBack(i, liveLen)
			}
		}
	}

	return NewTask{Text: trimmed}
}

func pos(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func finishFront(liveLen int, status api.TaskStatus) Intent {
	if liveLen == 0 {
		return NoOp{}
	}
	return FinishFront{Status: status}
}

func move(i, j, liveLen int) Intent {
	if i == j || i >= liveLen || j >= liveLen {
		return NoOp{}
	}
	return Move{From: i, To: j}
}

func reverse(i, j, liveLen int) Intent {
	if i == j || i >= liveLen || j >= liveLen {
		return NoOp{}
	}
	return Reverse{I: i, J: j}
}

func toBack(i, liveLen int) Intent {
	if i >= liveLen || liveLen < 2 {
		return NoOp{}
	}
	return ToBack{Pos: i}
}
