// Package flow implements the H-E-A-L practice state machine.
//
// Routing is a pure function of the stored state and the inbound event
// (Transition); Machine executes the resulting effect against the
// reflection engine and the session store.
package flow

import (
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/HealBot/internal/models"
)

// Effect names what the machine must do for an event.
type Effect int

const (
	EffectNone          Effect = iota
	EffectHelp                 // reply with help, no mutation
	EffectStart                // create a fresh session at H/H1
	EffectCancel               // destroy the session if any
	EffectIdlePrompt           // free input while idle
	EffectTooShort             // step input under the minimum length
	EffectRecordSubStep        // store H1/H2 text and move to the next sub-stage
	EffectTriage               // classify H1..H3
	EffectReflect              // reflect E, A or L
	EffectEnterQuestion        // switch to question mode
	EffectAnswer               // answer the pending question
	EffectAdvance              // move to the next stage
	EffectFinish               // summarize and destroy
	EffectMixedContinue        // MIXED triage, user chose to continue
	EffectSelfCare             // MIXED triage, user chose self-care
	EffectIgnore               // no reply, no mutation
	EffectNudge                // "use the buttons", no mutation
	EffectCorrupt              // stored state is unusable; reset
)

var effectNames = map[Effect]string{
	EffectNone:          "none",
	EffectHelp:          "help",
	EffectStart:         "start",
	EffectCancel:        "cancel",
	EffectIdlePrompt:    "idle_prompt",
	EffectTooShort:      "too_short",
	EffectRecordSubStep: "record_substep",
	EffectTriage:        "triage",
	EffectReflect:       "reflect",
	EffectEnterQuestion: "enter_question",
	EffectAnswer:        "answer",
	EffectAdvance:       "advance",
	EffectFinish:        "finish",
	EffectMixedContinue: "mixed_continue",
	EffectSelfCare:      "self_care",
	EffectIgnore:        "ignore",
	EffectNudge:         "nudge",
	EffectCorrupt:       "corrupt",
}

func (e Effect) String() string {
	if s, ok := effectNames[e]; ok {
		return s
	}
	return "unknown"
}

// Mutates reports whether the effect writes or deletes the session.
func (e Effect) Mutates() bool {
	switch e {
	case EffectStart, EffectCancel, EffectRecordSubStep, EffectTriage, EffectReflect,
		EffectEnterQuestion, EffectAnswer, EffectAdvance, EffectFinish,
		EffectMixedContinue, EffectSelfCare, EffectCorrupt:
		return true
	}
	return false
}

// CallsEngine reports whether the effect makes exactly one engine call.
func (e Effect) CallsEngine() bool {
	switch e {
	case EffectTriage, EffectReflect, EffectAnswer, EffectFinish:
		return true
	}
	return false
}

// Decision is the routing result for one event. Next is the state the
// session moves to when the effect succeeds; for EffectTriage it is the
// OK-path target and the classification decides the final state.
type Decision struct {
	Effect Effect
	Next   models.State
}

// InputLength counts Unicode code points after trimming whitespace.
func InputLength(text string) int {
	return utf8.RuneCountInString(strings.TrimSpace(text))
}

func stay(effect Effect, s models.State) Decision {
	return Decision{Effect: effect, Next: s}
}

// Transition routes an event given the current state. It never touches the
// store or the engine.
func Transition(state models.State, ev models.Event, minInputLength int) Decision {
	idle := models.IdleState()

	// Cancel is always available.
	if ev.Action == models.ActionCancel {
		return Decision{Effect: EffectCancel, Next: idle}
	}
	start := Decision{Effect: EffectStart, Next: models.State{Stage: models.StageH, SubStage: models.SubStageH1, WaitingFor: models.WaitingStepInput}}
	if err := state.Validate(); err != nil {
		if ev.Action == models.ActionStart {
			return start
		}
		return Decision{Effect: EffectCorrupt, Next: idle}
	}

	// MIXED triage blocks until one of continue, self-care or cancel arrives.
	if state.WaitingFor == models.WaitingMixedChoice {
		switch ev.Action {
		case models.ActionContinue:
			return Decision{Effect: EffectMixedContinue, Next: models.State{Stage: state.Stage, SubStage: state.SubStage, WaitingFor: models.WaitingNavigation}}
		case models.ActionSelfCare:
			return Decision{Effect: EffectSelfCare, Next: idle}
		default:
			return stay(EffectIgnore, state)
		}
	}

	switch ev.Action {
	case models.ActionHelp:
		return stay(EffectHelp, state)
	case models.ActionStart:
		return start
	}

	if state.IsIdle() {
		return stay(EffectIdlePrompt, state)
	}

	switch state.WaitingFor {
	case models.WaitingStepInput:
		if ev.Kind != models.EventText {
			return stay(EffectNudge, state)
		}
		if InputLength(ev.Text) < minInputLength {
			return stay(EffectTooShort, state)
		}
		if state.Stage == models.StageH {
			if next, ok := state.SubStage.Next(); ok {
				return Decision{Effect: EffectRecordSubStep, Next: models.State{Stage: models.StageH, SubStage: next, WaitingFor: models.WaitingStepInput}}
			}
			return Decision{Effect: EffectTriage, Next: models.State{Stage: models.StageH, SubStage: state.SubStage, WaitingFor: models.WaitingNavigation}}
		}
		return Decision{Effect: EffectReflect, Next: models.State{Stage: state.Stage, WaitingFor: menuFor(state.Stage)}}

	case models.WaitingNavigation:
		switch ev.Action {
		case models.ActionContinue:
			next, ok := state.Stage.Next()
			if !ok {
				return Decision{Effect: EffectCorrupt, Next: idle}
			}
			return Decision{Effect: EffectAdvance, Next: models.State{Stage: next, WaitingFor: models.WaitingStepInput}}
		case models.ActionAskQuestion:
			return Decision{Effect: EffectEnterQuestion, Next: withWaiting(state, models.WaitingQuestion)}
		}
		return stay(EffectNudge, state)

	case models.WaitingCompletion:
		switch ev.Action {
		case models.ActionFinish:
			return Decision{Effect: EffectFinish, Next: idle}
		case models.ActionAskQuestion:
			return Decision{Effect: EffectEnterQuestion, Next: withWaiting(state, models.WaitingQuestion)}
		}
		return stay(EffectNudge, state)

	case models.WaitingQuestion:
		if ev.Kind == models.EventText && strings.TrimSpace(ev.Text) != "" {
			return Decision{Effect: EffectAnswer, Next: withWaiting(state, menuFor(state.Stage))}
		}
		return stay(EffectNudge, state)
	}

	return Decision{Effect: EffectCorrupt, Next: idle}
}

// menuFor is the post-step menu of a stage: completion at L, navigation elsewhere.
func menuFor(stage models.Stage) models.WaitingFor {
	if stage.IsFinal() {
		return models.WaitingCompletion
	}
	return models.WaitingNavigation
}

func withWaiting(s models.State, w models.WaitingFor) models.State {
	s.WaitingFor = w
	return s
}
