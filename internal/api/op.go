// Package api defines the wire vocabulary shared with the task server.
// Every mutation of the shared list travels as an Op: a client-asserted
// timestamp plus exactly one operation kind. The JSON encoding of the kind
// is externally tagged ({"InsLiveTask":{...}}), which is what the server
// and the other clients speak.
package api

import (
	"encoding/json"
	"fmt"
)

// TaskStatus is the terminal status of a finished task.
type TaskStatus string

const (
	// StatusSucceeded marks a task that was completed successfully.
	StatusSucceeded TaskStatus = "Succeeded"

	// StatusFailed marks a task that was attempted and failed.
	StatusFailed TaskStatus = "Failed"

	// StatusObsoleted marks a task that stopped being relevant.
	StatusObsoleted TaskStatus = "Obsoleted"
)

// Valid reports whether s is one of the three known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusObsoleted:
		return true
	}
	return false
}

// LiveTask is an active item in the shared list. Identity is the ID;
// the value is the task text and may change over the task's lifetime.
type LiveTask struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// FinishedTask is an item removed from the live list with a terminal status.
type FinishedTask struct {
	ID     string     `json:"id"`
	Value  string     `json:"value"`
	Status TaskStatus `json:"status"`
}

// StateSnapshot is the full shared state: the live list (front = highest
// priority) and the finished list (most recently finished first).
// Live and finished hold disjoint sets of ids at all times.
type StateSnapshot struct {
	Live     []LiveTask     `json:"live"`
	Finished []FinishedTask `json:"finished"`
}

// Clone returns a deep copy of the snapshot.
func (s *StateSnapshot) Clone() StateSnapshot {
	out := StateSnapshot{
		Live:     make([]LiveTask, len(s.Live)),
		Finished: make([]FinishedTask, len(s.Finished)),
	}
	copy(out.Live, s.Live)
	copy(out.Finished, s.Finished)
	return out
}

// Op is one atomic, server-ordered mutation of the shared snapshot.
// AllegedTime is the sender's clock in milliseconds; it is a logging and
// ordering hint only, never a vector clock.
type Op struct {
	AllegedTime int64  `json:"alleged_time"`
	Kind        OpKind `json:"kind"`
}

// OpKind holds exactly one operation variant. The zero value is invalid;
// use Validate after decoding untrusted input. Encoding a populated OpKind
// with encoding/json produces the externally tagged form directly.
type OpKind struct {
	OverwriteState      *StateSnapshot       `json:"OverwriteState,omitempty"`
	InsLiveTask         *InsLiveTask         `json:"InsLiveTask,omitempty"`
	EditLiveTask        *EditLiveTask        `json:"EditLiveTask,omitempty"`
	DelLiveTask         *DelLiveTask         `json:"DelLiveTask,omitempty"`
	FinishLiveTask      *FinishLiveTask      `json:"FinishLiveTask,omitempty"`
	RestoreFinishedTask *RestoreFinishedTask `json:"RestoreFinishedTask,omitempty"`
	MvLiveTask          *MvLiveTask          `json:"MvLiveTask,omitempty"`
	RevLiveTask         *RevLiveTask         `json:"RevLiveTask,omitempty"`
}

// InsLiveTask inserts a new task at the front of the live list.
type InsLiveTask struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// EditLiveTask replaces the text of the identified live task.
type EditLiveTask struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// DelLiveTask removes the identified task from the live list.
type DelLiveTask struct {
	ID string `json:"id"`
}

// FinishLiveTask moves the identified task from the live list to the
// front of the finished list with the given status.
type FinishLiveTask struct {
	ID     string     `json:"id"`
	Status TaskStatus `json:"status"`
}

// RestoreFinishedTask moves the identified task from the finished list
// back to the front of the live list.
type RestoreFinishedTask struct {
	ID string `json:"id"`
}

// MvLiveTask relocates the task identified by IDDel to just before the
// position of the task identified by IDIns.
type MvLiveTask struct {
	IDDel string `json:"id_del"`
	IDIns string `json:"id_ins"`
}

// RevLiveTask reverses the contiguous live range between the positions of
// the two ids, inclusive. Which id names the lower position is irrelevant.
type RevLiveTask struct {
	ID1 string `json:"id1"`
	ID2 string `json:"id2"`
}

// Name returns the wire tag of the populated variant, or "" for an
// empty kind. Used for logging.
func (k *OpKind) Name() string {
	switch {
	case k.OverwriteState != nil:
		return "OverwriteState"
	case k.InsLiveTask != nil:
		return "InsLiveTask"
	case k.EditLiveTask != nil:
		return "EditLiveTask"
	case k.DelLiveTask != nil:
		return "DelLiveTask"
	case k.FinishLiveTask != nil:
		return "FinishLiveTask"
	case k.RestoreFinishedTask != nil:
		return "RestoreFinishedTask"
	case k.MvLiveTask != nil:
		return "MvLiveTask"
	case k.RevLiveTask != nil:
		return "RevLiveTask"
	}
	return ""
}

// Validate checks that exactly one variant is populated. Decoded server
// input must pass through this before being applied; a message that fails
// here is treated as a malformed remote operation.
func (k *OpKind) Validate() error {
	n := 0
	for _, set := range []bool{
		k.OverwriteState != nil,
		k.InsLiveTask != nil,
		k.EditLiveTask != nil,
		k.DelLiveTask != nil,
		k.FinishLiveTask != nil,
		k.RestoreFinishedTask != nil,
		k.MvLiveTask != nil,
		k.RevLiveTask != nil,
	} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("op kind must have exactly one variant, got %d", n)
	}
	if f := k.FinishLiveTask; f != nil && !f.Status.Valid() {
		return fmt.Errorf("unknown task status %q", f.Status)
	}
	return nil
}

// DecodeOp parses one wire payload into an Op and validates its kind.
func DecodeOp(data []byte) (Op, error) {
	var op Op
	if err := json.Unmarshal(data, &op); err != nil {
		return Op{}, fmt.Errorf("decode op: %w", err)
	}
	if err := op.Kind.Validate(); err != nil {
		return Op{}, fmt.Errorf("decode op: %w", err)
	}
	return op, nil
}

// EncodeOp serializes an Op for the wire.
func EncodeOp(op Op) ([]byte, error) {
	if err := op.Kind.Validate(); err != nil {
		return nil, fmt.Errorf("encode op: %w", err)
	}
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode op: %w", err)
	}
	return data, nil
}

// InitMessage is the one-shot handshake frame sent by the client right
// after the socket opens, before the receive loop is armed.
type InitMessage struct {
	APIKey string `json:"api_key"`
}
