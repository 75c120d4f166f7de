package reflection

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/HealBot/internal/models"
)

const basePersona = `You are a companion for a short wellness practice called HEAL (Having, Enriching, Absorbing, Linking).
You help people notice and savor good experiences and build a kinder relationship with themselves.`

// stageDescriptions explains each step to the model.
var stageDescriptions = map[models.HistoryKey]string{
	models.HistoryKeyH1: "H1 (body): the user describes what they notice in their body right now.",
	models.HistoryKeyH2: "H2 (mind): the user describes the state of their thoughts and mood.",
	models.HistoryKeyH3: "H3 (self-assessment): the user says, overall, how they are doing.",
	models.HistoryKeyE:  "E (Enriching): the user recalls a good experience and stays with it, noticing details, feelings and sensations.",
	models.HistoryKeyA:  "A (Absorbing): the user lets the good experience sink in, sensing it becoming part of them.",
	models.HistoryKeyL:  "L (Linking): the user gently links the good experience with something difficult, letting the positive soothe it.",
}

// historyLabels are the human readable names used when rendering history.
var historyLabels = map[models.HistoryKey]string{
	models.HistoryKeyH1: "Body",
	models.HistoryKeyH2: "Mind",
	models.HistoryKeyH3: "Self-assessment",
	models.HistoryKeyE:  "Enriching",
	models.HistoryKeyA:  "Absorbing",
	models.HistoryKeyL:  "Linking",
}

func (e *Engine) systemPrompt(task string) string {
	var b strings.Builder
	b.WriteString(basePersona)
	b.WriteString("\n\n")
	b.WriteString(task)
	b.WriteString(e.toneGuide)
	return b.String()
}

func (e *Engine) reflectSystemPrompt(stage models.Stage) string {
	task := fmt.Sprintf(`Current step: %s

Your task:
1. Reflect back what is valuable in what the user shared for this step.
2. Offer one short insight that deepens the experience.
3. Be warm and supportive. Do not ask more than one question.`, stageDescriptions[models.HistoryKeyFor(stage, models.SubStageNone)])
	return e.systemPrompt(task)
}

func reflectUserPrompt(stage models.Stage, userText string, history models.History) string {
	var b strings.Builder
	if h := renderHistory(history); h != "" {
		b.WriteString("Earlier in this practice:\n")
		b.WriteString(h)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "The user's answer for step %s:\n%q", stage, userText)
	return b.String()
}

func (e *Engine) triageSystemPrompt() string {
	task := fmt.Sprintf(`The user has just described their body, their mind and an overall self-assessment.
Decide whether it is appropriate to continue a positive-savoring practice right now.

Begin your answer with EXACTLY ONE of these markers, on its own, before any other text:
%s  the user seems basically okay; continuing is appropriate.
%s  the user signals acute distress, crisis, self-harm or that they are clearly not okay; they need care, not an exercise.
%s  the picture is mixed or unclear; the user should choose whether to continue.

After the marker, write a short, warm reflection of what they shared (2-3 sentences).
Never omit the marker. Never use more than one marker.`, MarkerOK, MarkerNotOK, MarkerMixed)
	return e.systemPrompt(task)
}

func triageUserPrompt(body, mind, selfAssessment string) string {
	return fmt.Sprintf("Body: %q\nMind: %q\nSelf-assessment: %q", body, mind, selfAssessment)
}

func (e *Engine) answerSystemPrompt(stage models.Stage) string {
	task := fmt.Sprintf(`The user is in the middle of the practice, at %s
They have a question. Answer it briefly and kindly using the context of their practice so far.
If the question is unrelated to the practice or to wellbeing, gently steer back to the practice.`, stageDescriptions[models.HistoryKeyFor(stage, models.SubStageH3)])
	return e.systemPrompt(task)
}

func answerUserPrompt(question string, history models.History) string {
	var b strings.Builder
	if h := renderHistory(history); h != "" {
		b.WriteString("Practice so far:\n")
		b.WriteString(h)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %q", question)
	return b.String()
}

func (e *Engine) summarizeSystemPrompt() string {
	return e.systemPrompt(`The user has completed all four steps of the practice.
Write a short closing summary: name the good experience they worked with, one thing they noticed along the way,
and a gentle suggestion for carrying it into the rest of their day.`)
}

func summarizeUserPrompt(history models.History) string {
	return "The full practice:\n" + renderHistory(history)
}

// renderHistory lists recorded steps in practice order.
func renderHistory(history models.History) string {
	var b strings.Builder
	for _, key := range models.HistoryOrder {
		entry, ok := history[key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %q\n", historyLabels[key], entry.UserText)
		if entry.Reflection != "" {
			fmt.Fprintf(&b, "  (reflection: %q)\n", entry.Reflection)
		}
	}
	return b.String()
}
