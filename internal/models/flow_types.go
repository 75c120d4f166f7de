// Package models defines the types exchanged between the gateway and the practice machine.
package models

import (
	"fmt"
	"strings"
)

// EventKind distinguishes how an inbound event reached the bot.
type EventKind string

const (
	EventCommand EventKind = "command"
	EventButton  EventKind = "button"
	EventText    EventKind = "text"
)

// Action is the closed set of explicit actions a user can take.
type Action string

const (
	ActionNone        Action = ""
	ActionStart       Action = "start"
	ActionCancel      Action = "cancel"
	ActionContinue    Action = "continue"
	ActionAskQuestion Action = "ask_question"
	ActionFinish      Action = "finish"
	ActionSelfCare    Action = "self_care"
	ActionHelp        Action = "help"
)

// Actions lists every non-empty action in display order.
var Actions = []Action{ActionStart, ActionContinue, ActionAskQuestion, ActionFinish, ActionSelfCare, ActionCancel, ActionHelp}

// Valid reports whether a is a known non-empty action.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Event is one inbound message normalized by the gateway.
type Event struct {
	UserID    string    `json:"user_id"`
	Kind      EventKind `json:"kind"`
	Action    Action    `json:"action,omitempty"`
	Text      string    `json:"text,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
}

// Validate checks the event carries a user and a payload consistent with its kind.
func (e Event) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return ErrEmptyUserID
	}
	switch e.Kind {
	case EventText:
		if e.Action != ActionNone {
			return fmt.Errorf("text event with action %q", e.Action)
		}
	case EventCommand, EventButton:
		if !e.Action.Valid() {
			return fmt.Errorf("%s event with unknown action %q", e.Kind, e.Action)
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// Reply is one ordered output segment, optionally carrying quick replies.
type Reply struct {
	Text         string   `json:"text"`
	QuickReplies []Action `json:"quick_replies,omitempty"`
}

// Outcome is the ordered list of replies produced for one event.
// An empty outcome means the event was ignored.
type Outcome struct {
	Replies []Reply `json:"replies"`
}

// Add appends a reply segment and returns the outcome for chaining.
func (o *Outcome) Add(text string, quick ...Action) *Outcome {
	o.Replies = append(o.Replies, Reply{Text: text, QuickReplies: quick})
	return o
}

// Empty reports whether the outcome carries no replies.
func (o Outcome) Empty() bool {
	return len(o.Replies) == 0
}

// Classification is the triage verdict computed at H3.
type Classification string

const (
	ClassificationOK    Classification = "OK"
	ClassificationNotOK Classification = "NOT_OK"
	ClassificationMixed Classification = "MIXED"
)

// Valid reports whether c is in the closed vocabulary.
func (c Classification) Valid() bool {
	return c == ClassificationOK || c == ClassificationNotOK || c == ClassificationMixed
}
