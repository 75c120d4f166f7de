package flow

import (
	"testing"

	"github.com/BTreeMap/HealBot/internal/models"
)

func st(stage models.Stage, sub models.SubStage, w models.WaitingFor) models.State {
	return models.State{Stage: stage, SubStage: sub, WaitingFor: w}
}

func textEv(s string) models.Event {
	return models.Event{UserID: "u1", Kind: models.EventText, Text: s}
}

func btn(a models.Action) models.Event {
	return models.Event{UserID: "u1", Kind: models.EventButton, Action: a}
}

const longText = "I notice warmth in my chest"

func TestTransitionTable(t *testing.T) {
	idle := models.IdleState()
	h1 := st(models.StageH, models.SubStageH1, models.WaitingStepInput)
	h2 := st(models.StageH, models.SubStageH2, models.WaitingStepInput)
	h3 := st(models.StageH, models.SubStageH3, models.WaitingStepInput)
	hMixed := st(models.StageH, models.SubStageH3, models.WaitingMixedChoice)
	hNav := st(models.StageH, models.SubStageH3, models.WaitingNavigation)
	eStep := st(models.StageE, "", models.WaitingStepInput)
	eNav := st(models.StageE, "", models.WaitingNavigation)
	eQ := st(models.StageE, "", models.WaitingQuestion)
	lStep := st(models.StageL, "", models.WaitingStepInput)
	lDone := st(models.StageL, "", models.WaitingCompletion)
	lQ := st(models.StageL, "", models.WaitingQuestion)

	tests := []struct {
		name   string
		state  models.State
		ev     models.Event
		effect Effect
		next   models.State
	}{
		{"start from idle", idle, btn(models.ActionStart), EffectStart, h1},
		{"start resets mid-practice", eNav, btn(models.ActionStart), EffectStart, h1},
		{"text while idle", idle, textEv(longText), EffectIdlePrompt, idle},
		{"cancel while idle", idle, btn(models.ActionCancel), EffectCancel, idle},
		{"cancel mid-practice", lDone, btn(models.ActionCancel), EffectCancel, idle},
		{"help keeps state", eStep, btn(models.ActionHelp), EffectHelp, eStep},
		{"too short at H1", h1, textEv("  tense   "), EffectTooShort, h1},
		{"too short at E", eStep, textEv("good day"), EffectTooShort, eStep},
		{"H1 advances to H2", h1, textEv(longText), EffectRecordSubStep, h2},
		{"H2 advances to H3", h2, textEv(longText), EffectRecordSubStep, h3},
		{"H3 triggers triage", h3, textEv(longText), EffectTriage, hNav},
		{"button at step input", h1, btn(models.ActionContinue), EffectNudge, h1},
		{"mixed continue", hMixed, btn(models.ActionContinue), EffectMixedContinue, hNav},
		{"mixed self-care", hMixed, btn(models.ActionSelfCare), EffectSelfCare, idle},
		{"mixed cancel", hMixed, btn(models.ActionCancel), EffectCancel, idle},
		{"mixed text ignored", hMixed, textEv(longText), EffectIgnore, hMixed},
		{"mixed help ignored", hMixed, btn(models.ActionHelp), EffectIgnore, hMixed},
		{"mixed start ignored", hMixed, btn(models.ActionStart), EffectIgnore, hMixed},
		{"H navigation continue", hNav, btn(models.ActionContinue), EffectAdvance, eStep},
		{"E reflect", eStep, textEv(longText), EffectReflect, eNav},
		{"L reflect goes to completion", lStep, textEv(longText), EffectReflect, lDone},
		{"ask from navigation", eNav, btn(models.ActionAskQuestion), EffectEnterQuestion, eQ},
		{"ask from completion", lDone, btn(models.ActionAskQuestion), EffectEnterQuestion, lQ},
		{"text at navigation", eNav, textEv(longText), EffectNudge, eNav},
		{"finish at navigation", eNav, btn(models.ActionFinish), EffectNudge, eNav},
		{"continue at completion", lDone, btn(models.ActionContinue), EffectNudge, lDone},
		{"finish at completion", lDone, btn(models.ActionFinish), EffectFinish, idle},
		{"short question answered", eQ, textEv("why?"), EffectAnswer, eNav},
		{"question at L returns to completion", lQ, textEv("what next?"), EffectAnswer, lDone},
		{"blank question", eQ, textEv("   "), EffectNudge, eQ},
		{"button in question", eQ, btn(models.ActionContinue), EffectNudge, eQ},
		{"corrupt state", st(models.StageE, models.SubStageH1, models.WaitingStepInput), textEv(longText), EffectCorrupt, idle},
		{"corrupt state start", st("X", "", models.WaitingStepInput), btn(models.ActionStart), EffectStart, h1},
		{"corrupt state cancel", st("X", "", models.WaitingStepInput), btn(models.ActionCancel), EffectCancel, idle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Transition(tt.state, tt.ev, DefaultMinInputLength)
			if d.Effect != tt.effect {
				t.Errorf("effect = %s, want %s", d.Effect, tt.effect)
			}
			if d.Next != tt.next {
				t.Errorf("next = %s, want %s", d.Next, tt.next)
			}
			if err := d.Next.Validate(); err != nil && tt.effect != EffectCorrupt {
				t.Errorf("next state invalid: %v", err)
			}
		})
	}
}

func TestTransitionNeverAdvancesPastL(t *testing.T) {
	for _, w := range []models.WaitingFor{models.WaitingStepInput, models.WaitingCompletion, models.WaitingQuestion} {
		d := Transition(st(models.StageL, "", w), btn(models.ActionContinue), DefaultMinInputLength)
		if d.Effect == EffectAdvance {
			t.Errorf("continue advanced from L/%s", w)
		}
	}
}

func TestNonMutatingEffectsKeepState(t *testing.T) {
	states := []models.State{
		models.IdleState(),
		st(models.StageH, models.SubStageH2, models.WaitingStepInput),
		st(models.StageA, "", models.WaitingNavigation),
		st(models.StageL, "", models.WaitingCompletion),
	}
	events := []models.Event{textEv("hi"), textEv(longText), btn(models.ActionHelp), btn(models.ActionFinish), btn(models.ActionSelfCare)}
	for _, s := range states {
		for _, ev := range events {
			d := Transition(s, ev, DefaultMinInputLength)
			if !d.Effect.Mutates() && d.Next != s {
				t.Errorf("%s on %s: non-mutating effect %s changed state to %s", ev.Action, s, d.Effect, d.Next)
			}
		}
	}
}

func TestInputLengthCountsCodePoints(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   hello   ", 5},
		{"привет мир", 10},
		{"🙂🙂🙂", 3},
		{"\t日本語\n", 3},
	}
	for _, tt := range tests {
		if got := InputLength(tt.in); got != tt.want {
			t.Errorf("InputLength(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}

	if d := Transition(st(models.StageE, "", models.WaitingStepInput), textEv("привет мир"), 10); d.Effect != EffectReflect {
		t.Errorf("10 Cyrillic code points rejected: %s", d.Effect)
	}
	if d := Transition(st(models.StageE, "", models.WaitingStepInput), textEv("привет"), 10); d.Effect != EffectTooShort {
		t.Errorf("6 Cyrillic code points accepted: %s", d.Effect)
	}
}

func TestEffectProperties(t *testing.T) {
	engine := map[Effect]bool{EffectTriage: true, EffectReflect: true, EffectAnswer: true, EffectFinish: true}
	for e := EffectNone; e <= EffectCorrupt; e++ {
		if e.String() == "unknown" {
			t.Errorf("effect %d has no name", e)
		}
		if e.CallsEngine() != engine[e] {
			t.Errorf("%s.CallsEngine() = %v", e, e.CallsEngine())
		}
		if e.CallsEngine() && !e.Mutates() {
			t.Errorf("%s calls the engine without mutating", e)
		}
	}
}
