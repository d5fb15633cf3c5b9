package api

// apply.go implements the single pure mutation function of the operation
// log. Apply is total: operations that reference unknown ids, duplicate
// ids, or empty ranges are no-ops rather than errors. This tolerates
// op/state races where a task was already removed by an earlier operation
// in the server-ordered stream.

// liveIndex returns the position of id in the live list, or -1.
func (s *StateSnapshot) liveIndex(id string) int {
	for i, t := range s.Live {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// finishedIndex returns the position of id in the finished list, or -1.
func (s *StateSnapshot) finishedIndex(id string) int {
	for i, t := range s.Finished {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// HasID reports whether id appears anywhere in the snapshot.
func (s *StateSnapshot) HasID(id string) bool {
	return s.liveIndex(id) >= 0 || s.finishedIndex(id) >= 0
}

// Apply mutates the snapshot with one operation kind. It never fails:
// every edge case degrades to a no-op. Callers are expected to have
// validated the kind (exactly one variant populated); an empty kind is
// also a no-op.
func (s *StateSnapshot) Apply(k OpKind) {
	switch {
	case k.OverwriteState != nil:
		*s = k.OverwriteState.Clone()

	case k.InsLiveTask != nil:
		op := k.InsLiveTask
		// Ids are never reused; a duplicate insert is a replayed op.
		if s.HasID(op.ID) {
			return
		}
		s.Live = append([]LiveTask{{ID: op.ID, Value: op.Value}}, s.Live...)

	case k.EditLiveTask != nil:
		op := k.EditLiveTask
		if i := s.liveIndex(op.ID); i >= 0 {
			s.Live[i].Value = op.Value
		}

	case k.DelLiveTask != nil:
		if i := s.liveIndex(k.DelLiveTask.ID); i >= 0 {
			s.Live = append(s.Live[:i], s.Live[i+1:]...)
		}

	case k.FinishLiveTask != nil:
		op := k.FinishLiveTask
		i := s.liveIndex(op.ID)
		if i < 0 {
			return
		}
		t := s.Live[i]
		s.Live = append(s.Live[:i], s.Live[i+1:]...)
		s.Finished = append([]FinishedTask{{ID: t.ID, Value: t.Value, Status: op.Status}}, s.Finished...)

	case k.RestoreFinishedTask != nil:
		op := k.RestoreFinishedTask
		i := s.finishedIndex(op.ID)
		if i < 0 {
			return
		}
		t := s.Finished[i]
		s.Finished = append(s.Finished[:i], s.Finished[i+1:]...)
		s.Live = append([]LiveTask{{ID: t.ID, Value: t.Value}}, s.Live...)

	case k.MvLiveTask != nil:
		op := k.MvLiveTask
		if op.IDDel == op.IDIns {
			return
		}
		// Both ids must resolve before anything moves.
		if s.liveIndex(op.IDDel) < 0 || s.liveIndex(op.IDIns) < 0 {
			return
		}
		i := s.liveIndex(op.IDDel)
		t := s.Live[i]
		s.Live = append(s.Live[:i], s.Live[i+1:]...)
		// Target position is looked up after the removal.
		j := s.liveIndex(op.IDIns)
		s.Live = append(s.Live[:j], append([]LiveTask{t}, s.Live[j:]...)...)

	case k.RevLiveTask != nil:
		op := k.RevLiveTask
		i := s.liveIndex(op.ID1)
		j := s.liveIndex(op.ID2)
		if i < 0 || j < 0 {
			return
		}
		if i > j {
			i, j = j, i
		}
		for lo, hi := i, j; lo < hi; lo, hi = lo+1, hi-1 {
			s.Live[lo], s.Live[hi] = s.Live[hi], s.Live[lo]
		}
	}
}
