// Package models defines the session record persisted for each user mid-practice.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Mode is the conversation mode of a session. Absence of a session means idle.
type Mode string

const (
	ModePracticeActive Mode = "practice_active"
)

// Stage is one of the four ordered phases of the H-E-A-L exercise.
type Stage string

const (
	StageH Stage = "H" // Having
	StageE Stage = "E" // Enriching
	StageA Stage = "A" // Absorbing
	StageL Stage = "L" // Linking
)

// StageOrder is the fixed, forward-only order of stages.
var StageOrder = []Stage{StageH, StageE, StageA, StageL}

// Index returns the position of the stage in StageOrder, or -1 if unknown.
func (s Stage) Index() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the four stages.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Next returns the stage following s. The second return value is false for L.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(StageOrder) {
		return "", false
	}
	return StageOrder[i+1], true
}

// IsFinal reports whether s is the last stage.
func (s Stage) IsFinal() bool {
	return s == StageL
}

// SubStage is a finer step inside stage H.
type SubStage string

const (
	SubStageNone SubStage = ""
	SubStageH1   SubStage = "H1" // body awareness
	SubStageH2   SubStage = "H2" // thought awareness
	SubStageH3   SubStage = "H3" // self-assessment
)

// Next returns the sub-stage following s. The second return value is false for H3.
func (s SubStage) Next() (SubStage, bool) {
	switch s {
	case SubStageH1:
		return SubStageH2, true
	case SubStageH2:
		return SubStageH3, true
	default:
		return SubStageNone, false
	}
}

// Valid reports whether s is one of H1, H2 or H3.
func (s SubStage) Valid() bool {
	return s == SubStageH1 || s == SubStageH2 || s == SubStageH3
}

// WaitingFor names the kind of input the machine expects next.
type WaitingFor string

const (
	WaitingStepInput   WaitingFor = "step_input"
	WaitingQuestion    WaitingFor = "question"
	WaitingNavigation  WaitingFor = "navigation"
	WaitingCompletion  WaitingFor = "completion"
	WaitingMixedChoice WaitingFor = "mixed_choice"
)

// Valid reports whether w is a known value.
func (w WaitingFor) Valid() bool {
	switch w {
	case WaitingStepInput, WaitingQuestion, WaitingNavigation, WaitingCompletion, WaitingMixedChoice:
		return true
	}
	return false
}

// HistoryKey identifies one write-once slot of the reflection log.
type HistoryKey string

const (
	HistoryKeyH1 HistoryKey = "H1"
	HistoryKeyH2 HistoryKey = "H2"
	HistoryKeyH3 HistoryKey = "H3"
	HistoryKeyE  HistoryKey = "E"
	HistoryKeyA  HistoryKey = "A"
	HistoryKeyL  HistoryKey = "L"
)

// HistoryOrder is the order in which history entries are written.
var HistoryOrder = []HistoryKey{HistoryKeyH1, HistoryKeyH2, HistoryKeyH3, HistoryKeyE, HistoryKeyA, HistoryKeyL}

// HistoryKeyFor returns the history slot for a stage and sub-stage.
func HistoryKeyFor(stage Stage, sub SubStage) HistoryKey {
	if stage == StageH {
		return HistoryKey(sub)
	}
	return HistoryKey(stage)
}

// HistoryEntry is the user's raw text for a step plus the engine's reflection, if any.
type HistoryEntry struct {
	UserText   string    `json:"user_text"`
	Reflection string    `json:"reflection,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// History is the append-only reflection log of a session.
type History map[HistoryKey]HistoryEntry

// ErrHistoryImmutable is returned when a history slot that was already written is written again.
var ErrHistoryImmutable = errors.New("history entry already recorded")

// Session is the durable per-user record of practice progress.
type Session struct {
	UserID         string         `json:"user_id"`
	Mode           Mode           `json:"mode"`
	Stage          Stage          `json:"stage"`
	SubStage       SubStage       `json:"substage,omitempty"`
	WaitingFor     WaitingFor     `json:"waiting_for"`
	QuestionReturn WaitingFor     `json:"question_return,omitempty"`
	History        History        `json:"history"`
	Triage         Classification `json:"triage,omitempty"`
	// Version is bumped by the store on every successful write.
	Version   int64     `json:"version"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession returns a fresh session positioned at H/H1 awaiting step input.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:     userID,
		Mode:       ModePracticeActive,
		Stage:      StageH,
		SubStage:   SubStageH1,
		WaitingFor: WaitingStepInput,
		History:    make(History),
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

// State returns the machine state encoded by the session.
func (s *Session) State() State {
	if s == nil {
		return IdleState()
	}
	return State{Stage: s.Stage, SubStage: s.SubStage, WaitingFor: s.WaitingFor}
}

// Record writes a history entry. A key can be written only once per session.
func (s *Session) Record(key HistoryKey, entry HistoryEntry) error {
	if s.History == nil {
		s.History = make(History)
	}
	if _, exists := s.History[key]; exists {
		return fmt.Errorf("%w: %s", ErrHistoryImmutable, key)
	}
	s.History[key] = entry
	return nil
}

// AdvanceStage moves to the next stage and clears the sub-stage.
// It returns false when the session is already at the final stage.
func (s *Session) AdvanceStage() bool {
	next, ok := s.Stage.Next()
	if !ok {
		return false
	}
	s.Stage = next
	s.SubStage = SubStageNone
	s.WaitingFor = WaitingStepInput
	return true
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.History = make(History, len(s.History))
	for k, v := range s.History {
		c.History[k] = v
	}
	return &c
}

// Validate checks that the session describes a reachable state.
func (s *Session) Validate() error {
	if s.Mode != ModePracticeActive {
		return fmt.Errorf("unsupported session mode %q", s.Mode)
	}
	if err := s.State().Validate(); err != nil {
		return err
	}
	if s.WaitingFor == WaitingQuestion && s.QuestionReturn != WaitingNavigation && s.QuestionReturn != WaitingCompletion {
		return fmt.Errorf("question mode without a valid return target %q", s.QuestionReturn)
	}
	return nil
}
