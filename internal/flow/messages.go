package flow

import (
	"fmt"

	"github.com/BTreeMap/HealBot/internal/models"
)

// Button labels shown for each quick reply action.
var actionLabels = map[models.Action]string{
	models.ActionStart:       "🧘 Start practice",
	models.ActionContinue:    "➡️ Continue",
	models.ActionAskQuestion: "❓ Ask a question",
	models.ActionFinish:      "✅ Finish",
	models.ActionSelfCare:    "💚 Self-care",
	models.ActionCancel:      "❌ Cancel",
	models.ActionHelp:        "ℹ️ Help",
}

// Label returns the button label for an action.
func Label(a models.Action) string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

const (
	msgWelcome = "Hi! 👋 I'm HealBot. I guide you through H-E-A-L, a short self-reflection practice: Having, Enriching, Absorbing, Linking.\n\n" +
		"💡 This is a self-help tool, not a medical service."
	msgIdle       = "Tap \"Start practice\" or send /start to begin the H-E-A-L practice 🌟"
	msgTooShort   = "Try to describe it in a bit more detail, at least a sentence or two 😊"
	msgCancelled  = "Practice cancelled. Come back whenever you're ready! 😊"
	msgNudge      = "Please use one of the buttons below to continue."
	msgConflict   = "I'm still working on your previous message. Please send one message at a time."
	msgEngineFail = "😔 Something went wrong while reflecting on your answer. Your practice was reset, please start again."
	msgStoreFail  = "😔 I couldn't save your progress. Your practice was reset, please start again."
	msgCorrupt    = "😔 Your practice could not be resumed. Please start again."
	msgAskPrompt  = "What would you like to ask? Send your question as a message."
	msgMixed      = "Thank you for sharing. It sounds like things are a bit mixed right now.\n\n" +
		"You can continue with the practice, or take a moment for self-care instead."
	msgFarewell        = "Well done. Thank you for practicing today 🌟"
	msgFarewellGeneric = "Thank you for completing the H-E-A-L practice today. Well done 🌟"
)

// Prompts for each H sub-step.
var subStagePrompts = map[models.SubStage]string{
	models.SubStageH1: "🌿 H. Having (1/3)\n\nPause for a moment and notice your body. What sensations do you notice right now?",
	models.SubStageH2: "🌿 H. Having (2/3)\n\nNow notice your thoughts. What is on your mind at the moment?",
	models.SubStageH3: "🌿 H. Having (3/3)\n\nHow would you describe how you are doing overall right now?",
}

// Prompts shown on entering each later stage.
var stagePrompts = map[models.Stage]string{
	models.StageE: "🌱 E. Enriching\n\nRecall a good moment from today or recently. Describe it in detail: where you were, what happened, how it felt.",
	models.StageA: "🌸 A. Absorbing\n\nStay with that good moment for a few breaths. What do you notice as you let it sink in?",
	models.StageL: "🌳 L. Linking\n\nHow could this good experience support you in something that feels hard right now?",
}

func stepPrompt(s models.State) string {
	if s.Stage == models.StageH {
		return subStagePrompts[s.SubStage]
	}
	return stagePrompts[s.Stage]
}

func (m *Machine) helpText() string {
	return "📖 How it works:\n\n" +
		"1. Start the practice with /start\n" +
		"2. H. Notice your body, your thoughts and how you are doing\n" +
		"3. E. Recall a good moment\n" +
		"4. A. Let it sink in\n" +
		"5. L. Link it to something hard\n\n" +
		"You can ask a question after each step, or /cancel at any time.\n\n" +
		"💡 This is not therapy. For serious difficulties please reach out to a professional.\n\n" +
		"📞 " + m.cfg.CrisisLine
}

func (m *Machine) careText() string {
	return "💚 Thank you for being honest about how you feel. Right now it may be better to take care of yourself than to continue the practice.\n\n" +
		"Take a few slow breaths, drink some water, or reach out to someone you trust.\n\n" +
		"📞 " + m.cfg.CrisisLine
}

func reflectionHeader(stage models.Stage) string {
	return fmt.Sprintf("💡 Reflection (%s)", stage)
}

// quickRepliesFor returns the actions offered in a state.
func quickRepliesFor(s models.State) []models.Action {
	if s.IsIdle() {
		return []models.Action{models.ActionStart, models.ActionHelp}
	}
	switch s.WaitingFor {
	case models.WaitingMixedChoice:
		return []models.Action{models.ActionContinue, models.ActionSelfCare, models.ActionCancel}
	case models.WaitingNavigation:
		return []models.Action{models.ActionContinue, models.ActionAskQuestion, models.ActionCancel}
	case models.WaitingCompletion:
		return []models.Action{models.ActionFinish, models.ActionAskQuestion, models.ActionCancel}
	default:
		return []models.Action{models.ActionCancel}
	}
}

// menuPrompt is shown with the navigation and completion menus.
func menuPrompt(s models.State) string {
	if s.WaitingFor == models.WaitingCompletion {
		return "That was the last step. Tap Finish to see a summary of your practice, or ask a question first."
	}
	if next, ok := s.Stage.Next(); ok {
		return fmt.Sprintf("Ready to move on to %s? You can also ask a question first.", stageNames[next])
	}
	return "Ready to continue?"
}

var stageNames = map[models.Stage]string{
	models.StageH: "H. Having",
	models.StageE: "E. Enriching",
	models.StageA: "A. Absorbing",
	models.StageL: "L. Linking",
}
