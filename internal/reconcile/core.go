// Package reconcile holds the client-side view of the shared task list
// while a session is connected: the latest snapshot of the server-ordered
// operation log plus the one in-progress edit. The core never talks to
// the network; it consumes remote operations and produces local ones,
// and the session machine moves the bytes.
//
// The list a user sees is positional, but the wire protocol is strictly
// id-addressed. This package is where positions are resolved against the
// current snapshot, so that an intent raced by a remote reorder lands on
// the task the user saw, or degrades to a no-op, never on a neighbor.
package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/todoproxy/dock/internal/api"
)

// activeEdit is the single editing slot: the task being edited and the
// uncommitted text buffer.
type activeEdit struct {
	id   string
	text string
}

// Core is the reconciliation state for one connection. It is owned by
// the session event loop and is not safe for concurrent use.
type Core struct {
	snapshot api.StateSnapshot
	active   *activeEdit

	now   func() int64  // alleged_time source, ms
	newID func() string // id source for new tasks
}

// New returns an empty core. The snapshot stays empty until the server's
// OverwriteState arrives; every intent helper no-ops until then.
func New() *Core {
	return &Core{
		now:   func() int64 { return time.Now().UnixMilli() },
		newID: uuid.NewString,
	}
}

// Snapshot returns a deep copy of the current state for rendering.
func (c *Core) Snapshot() api.StateSnapshot {
	return c.snapshot.Clone()
}

// ActiveEdit returns the id and buffer of the in-progress edit, if any.
func (c *Core) ActiveEdit() (id, text string, ok bool) {
	if c.active == nil {
		return "", "", false
	}
	return c.active.id, c.active.text, true
}

// ApplyRemote folds one server-ordered operation into the snapshot.
// If the edited task left the live list (finished, deleted, or dropped
// by an overwrite), the active edit is discarded: the buffer belonged
// to a task that no longer accepts edits.
func (c *Core) ApplyRemote(k api.OpKind) {
	c.snapshot.Apply(k)
	if c.active != nil && c.liveIndexOf(c.active.id) < 0 {
		c.active = nil
	}
}

// BeginEdit starts editing the live task at position pos, seeding the
// buffer with its current text. If another task was being edited, that
// buffer is committed first (commit-on-switch) and the resulting op is
// returned. Out of range leaves the active edit alone and returns nil.
func (c *Core) BeginEdit(pos int) []api.Op {
	if pos < 0 || pos >= len(c.snapshot.Live) {
		return nil
	}
	t := c.snapshot.Live[pos]

	var ops []api.Op
	if c.active != nil && c.active.id != t.ID {
		ops = c.EndEdit()
	}
	if c.active == nil || c.active.id != t.ID {
		c.active = &activeEdit{id: t.ID, text: t.Value}
	}
	return ops
}

// UpdateEditText replaces the edit buffer. No-op without an active edit.
func (c *Core) UpdateEditText(text string) {
	if c.active != nil {
		c.active.text = text
	}
}

// EndEdit commits the active edit and clears the slot, returning the
// EditLiveTask op to send. A buffer identical to the task's current text
// still clears the slot but emits nothing.
func (c *Core) EndEdit() []api.Op {
	if c.active == nil {
		return nil
	}
	edit := *c.active
	c.active = nil

	i := c.liveIndexOf(edit.id)
	if i < 0 || c.snapshot.Live[i].Value == edit.text {
		return nil
	}
	return c.ops(api.OpKind{EditLiveTask: &api.EditLiveTask{ID: edit.id, Value: edit.text}})
}

// CancelEdit discards the active edit without committing.
func (c *Core) CancelEdit() {
	c.active = nil
}

// SubmitNew produces an insert for a fresh task at the front of the
// live list. Empty text is rejected as a no-op.
func (c *Core) SubmitNew(text string) []api.Op {
	if text == "" {
		return nil
	}
	return c.ops(api.OpKind{InsLiveTask: &api.InsLiveTask{ID: c.newID(), Value: text}})
}

// FinishFront finishes the task at the front of the live list with the
// given status.
func (c *Core) FinishFront(status api.TaskStatus) []api.Op {
	if len(c.snapshot.Live) == 0 || !status.Valid() {
		return nil
	}
	return c.ops(api.OpKind{FinishLiveTask: &api.FinishLiveTask{ID: c.snapshot.Live[0].ID, Status: status}})
}

// RestoreRecent moves the most recently finished task back to the front
// of the live list.
func (c *Core) RestoreRecent() []api.Op {
	if len(c.snapshot.Finished) == 0 {
		return nil
	}
	return c.ops(api.OpKind{RestoreFinishedTask: &api.RestoreFinishedTask{ID: c.snapshot.Finished[0].ID}})
}

// MoveByPos moves the live task at position i to just before the task
// currently at position j.
func (c *Core) MoveByPos(i, j int) []api.Op {
	if i == j || !c.inLiveRange(i) || !c.inLiveRange(j) {
		return nil
	}
	return c.ops(api.OpKind{MvLiveTask: &api.MvLiveTask{
		IDDel: c.snapshot.Live[i].ID,
		IDIns: c.snapshot.Live[j].ID,
	}})
}

// ReverseByPos reverses the live range between positions i and j inclusive.
func (c *Core) ReverseByPos(i, j int) []api.Op {
	if i == j || !c.inLiveRange(i) || !c.inLiveRange(j) {
		return nil
	}
	return c.ops(api.OpKind{RevLiveTask: &api.RevLiveTask{
		ID1: c.snapshot.Live[i].ID,
		ID2: c.snapshot.Live[j].ID,
	}})
}

// MoveToBack sends the live task at position i to the back of the list.
// The op vocabulary only has insert-before, so the move is a pair: the
// task goes before the current last element, then the old last element
// goes before it. Applying the pair in order lands the task at the back.
func (c *Core) MoveToBack(i int) []api.Op {
	last := len(c.snapshot.Live) - 1
	if !c.inLiveRange(i) || i == last {
		return nil
	}
	id := c.snapshot.Live[i].ID
	lastID := c.snapshot.Live[last].ID
	return c.ops(
		api.OpKind{MvLiveTask: &api.MvLiveTask{IDDel: id, IDIns: lastID}},
		api.OpKind{MvLiveTask: &api.MvLiveTask{IDDel: lastID, IDIns: id}},
	)
}

func (c *Core) inLiveRange(i int) bool {
	return i >= 0 && i < len(c.snapshot.Live)
}

func (c *Core) liveIndexOf(id string) int {
	for i, t := range c.snapshot.Live {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// ops stamps each kind with the local clock.
func (c *Core) ops(kinds ...api.OpKind) []api.Op {
	out := make([]api.Op, len(kinds))
	for i, k := range kinds {
		out[i] = api.Op{AllegedTime: c.now(), Kind: k}
	}
	return out
}
