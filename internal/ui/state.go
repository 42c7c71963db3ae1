package ui

import (
	"tasklite/internal/tasks"
)

type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseReady
)

func (p Phase) String() string {
	if p == PhaseReady {
		return "ready"
	}
	return "uninitialized"
}

type Tab int

const (
	TabTasks Tab = iota
	TabHistory
)

func (t Tab) String() string {
	if t == TabHistory {
		return "History"
	}
	return "Tasks"
}

// State is the in-memory projection of the store that the view renders.
// Pending and Completed are only replaced wholesale by ApplyReload; nothing
// patches them in place.
type State struct {
	Phase     Phase
	Pending   []tasks.Task
	Completed []tasks.Task
	Draft     string
	Tab       Tab
	Status    string

	started uint64
	settled uint64
}

// MarkReady moves Uninitialized to Ready and reports whether it did.
func (s *State) MarkReady() bool {
	if s.Phase == PhaseReady {
		return false
	}
	s.Phase = PhaseReady
	return true
}

func (s *State) Ready() bool {
	return s.Phase == PhaseReady
}

// BeginReload hands out the sequence number for a new reload.
func (s *State) BeginReload() uint64 {
	s.started++
	return s.started
}

// Superseded reports whether the result of reload seq should be discarded:
// either a newer snapshot is already shown or a newer reload has started
// and will report after it.
func (s *State) Superseded(seq uint64) bool {
	return seq <= s.settled || seq < s.started
}

// ApplyReload replaces both projections with a fresh snapshot. Superseded
// results are dropped so overlapping reloads never move the view backwards.
func (s *State) ApplyReload(seq uint64, all []tasks.Task) bool {
	if s.Superseded(seq) {
		return false
	}
	s.settled = seq
	s.Pending, s.Completed = tasks.Partition(all)
	return true
}

// FailReload settles the newest reload without touching the projections.
func (s *State) FailReload(seq uint64) bool {
	if s.Superseded(seq) {
		return false
	}
	s.settled = seq
	return true
}

// InFlight reports whether the newest reload has not reported yet.
func (s *State) InFlight() bool {
	return s.started > s.settled
}

// Visible returns the projection for the active tab.
func (s *State) Visible() []tasks.Task {
	if s.Tab == TabHistory {
		return s.Completed
	}
	return s.Pending
}

func (s *State) SwitchTab() {
	if s.Tab == TabTasks {
		s.Tab = TabHistory
	} else {
		s.Tab = TabTasks
	}
}
