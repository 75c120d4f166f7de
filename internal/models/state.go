// Package models defines the closed state type of the practice machine.
package models

import "fmt"

// State is the cross product of stage, sub-stage and expected input.
// The zero value is the idle state (no session).
type State struct {
	Stage      Stage      `json:"stage,omitempty"`
	SubStage   SubStage   `json:"substage,omitempty"`
	WaitingFor WaitingFor `json:"waiting_for,omitempty"`
}

// IdleState returns the state of a user without a session.
func IdleState() State {
	return State{}
}

// IsIdle reports whether the state represents the absence of a session.
func (s State) IsIdle() bool {
	return s == State{}
}

// String renders the state as STAGE/SUBSTAGE/WAITING for logs.
func (s State) String() string {
	if s.IsIdle() {
		return "idle"
	}
	if s.SubStage != SubStageNone {
		return fmt.Sprintf("%s/%s/%s", s.Stage, s.SubStage, s.WaitingFor)
	}
	return fmt.Sprintf("%s/%s", s.Stage, s.WaitingFor)
}

// Validate rejects combinations that the transition table can never produce.
func (s State) Validate() error {
	if s.IsIdle() {
		return nil
	}
	if !s.Stage.Valid() {
		return fmt.Errorf("invalid stage %q", s.Stage)
	}
	if !s.WaitingFor.Valid() {
		return fmt.Errorf("invalid waitingFor %q", s.WaitingFor)
	}
	if s.Stage != StageH && s.SubStage != SubStageNone {
		return fmt.Errorf("substage %q outside stage H", s.SubStage)
	}
	if s.SubStage != SubStageNone && !s.SubStage.Valid() {
		return fmt.Errorf("invalid substage %q", s.SubStage)
	}
	if s.Stage == StageH && s.WaitingFor == WaitingStepInput && s.SubStage == SubStageNone {
		return fmt.Errorf("stage H awaiting input without a substage")
	}
	if s.WaitingFor == WaitingMixedChoice && (s.Stage != StageH || s.SubStage != SubStageH3) {
		return fmt.Errorf("mixed_choice outside H/H3 (%s)", s)
	}
	if s.WaitingFor == WaitingCompletion && s.Stage != StageL {
		return fmt.Errorf("completion outside stage L (%s)", s)
	}
	if s.WaitingFor == WaitingNavigation && s.Stage == StageL {
		return fmt.Errorf("navigation at final stage (%s)", s)
	}
	return nil
}
