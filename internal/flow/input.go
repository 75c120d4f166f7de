package flow

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/BTreeMap/HealBot/internal/models"
)

var commandActions = map[string]models.Action{
	"start":    models.ActionStart,
	"practice": models.ActionStart,
	"cancel":   models.ActionCancel,
	"continue": models.ActionContinue,
	"ask":      models.ActionAskQuestion,
	"finish":   models.ActionFinish,
	"selfcare": models.ActionSelfCare,
	"help":     models.ActionHelp,
}

// labelActions maps normalized button labels and short aliases to actions.
var labelActions = func() map[string]models.Action {
	m := map[string]models.Action{
		"start":          models.ActionStart,
		"continue":       models.ActionContinue,
		"ask a question": models.ActionAskQuestion,
		"finish":         models.ActionFinish,
		"self care":      models.ActionSelfCare,
		"selfcare":       models.ActionSelfCare,
		"cancel":         models.ActionCancel,
		"help":           models.ActionHelp,
	}
	for action, label := range actionLabels {
		m[normalizeLabel(label)] = action
	}
	return m
}()

// ParseInput turns raw inbound text into an Event. Slash commands become
// command events, known button labels become button events, and anything
// else is free text. Unknown slash commands map to help.
func ParseInput(userID, text, messageID string) models.Event {
	ev := models.Event{UserID: userID, Kind: models.EventText, Text: text, MessageID: messageID}
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "/") {
		name := strings.Fields(trimmed[1:])
		cmd := ""
		if len(name) > 0 {
			cmd = strings.ToLower(name[0])
		}
		if at := strings.IndexByte(cmd, '@'); at >= 0 {
			cmd = cmd[:at]
		}
		action, ok := commandActions[cmd]
		if !ok {
			action = models.ActionHelp
		}
		ev.Kind = models.EventCommand
		ev.Action = action
		ev.Text = ""
		return ev
	}

	if action, ok := labelActions[normalizeLabel(trimmed)]; ok {
		ev.Kind = models.EventButton
		ev.Action = action
		ev.Text = ""
	}
	return ev
}

// normalizeLabel lowercases s and keeps only letters, digits and single spaces.
func normalizeLabel(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			space = true
		}
	}
	return b.String()
}

// resolveChoice maps a bare option number to the quick reply it names in
// a menu state. Step text and questions keep their numbers.
func resolveChoice(state models.State, ev models.Event) models.Event {
	if ev.Kind != models.EventText || !menuState(state) {
		return ev
	}
	n, err := strconv.Atoi(strings.TrimSpace(ev.Text))
	if err != nil {
		return ev
	}
	options := quickRepliesFor(state)
	if n < 1 || n > len(options) {
		return ev
	}
	ev.Kind = models.EventButton
	ev.Action = options[n-1]
	ev.Text = ""
	return ev
}

func menuState(s models.State) bool {
	switch s.WaitingFor {
	case models.WaitingNavigation, models.WaitingCompletion, models.WaitingMixedChoice:
		return true
	}
	return s.IsIdle()
}

// QuickReplies returns the actions offered in a state, in display order.
func QuickReplies(s models.State) []models.Action {
	return quickRepliesFor(s)
}
