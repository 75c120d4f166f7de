// Package messaging connects chat transports to the practice machine.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/HealBot/internal/flow"
	"github.com/BTreeMap/HealBot/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size of inbound response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound message waits for buffer space.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a user address and returns
	// the canonical form used as the session user id.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a plain text message.
	SendMessage(ctx context.Context, to string, body string) error

	// SendReply renders one reply segment, including its quick replies, and sends it.
	SendReply(ctx context.Context, to string, reply models.Reply) error

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the responses channel.
	Stop() error

	// Responses returns a channel of inbound user messages.
	Responses() <-chan models.Response
}

// RenderReply renders a reply as text with a numbered option list.
func RenderReply(r models.Reply) string {
	if len(r.QuickReplies) == 0 {
		return r.Text
	}
	var b strings.Builder
	b.WriteString(r.Text)
	b.WriteString("\n")
	for i, a := range r.QuickReplies {
		fmt.Fprintf(&b, "\n%d. %s", i+1, flow.Label(a))
	}
	b.WriteString("\n\nReply with a number or the option text.")
	return b.String()
}

// canonicalPhone strips every non-digit and requires at least 6 digits.
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}
