package messaging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/HealBot/internal/models"
)

// ConsoleService is a line-oriented transport for local chat sessions.
// Each input line is one inbound message from a fixed user; replies are
// written to the output. The responses channel closes at end of input.
type ConsoleService struct {
	userID string
	in     io.Reader
	out    io.Writer

	outMu     sync.Mutex
	responses chan models.Response

	mu       sync.Mutex
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewConsoleService creates a console transport for userID.
func NewConsoleService(userID string, in io.Reader, out io.Writer) *ConsoleService {
	return &ConsoleService{
		userID:    userID,
		in:        in,
		out:       out,
		responses: make(chan models.Response),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient accepts any non-empty id.
func (s *ConsoleService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	r := strings.TrimSpace(recipient)
	if r == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	return r, nil
}

// Start reads input lines in the background until EOF or ctx is done.
func (s *ConsoleService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	go func() {
		defer close(s.responses)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case s.responses <- models.Response{From: s.userID, Body: line, Time: time.Now().Unix(), MessageID: uuid.NewString()}:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Error("ConsoleService read failed", "error", err)
		}
	}()
	return nil
}

// Stop ends the reader. The responses channel closes once the reader
// returns, or immediately if Start was never called.
func (s *ConsoleService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopOnce.Do(func() {
		close(s.done)
		if !s.started {
			s.started = true
			close(s.responses)
		}
	})
	return nil
}

// SendMessage writes body to the output followed by a blank line.
func (s *ConsoleService) SendMessage(ctx context.Context, to string, body string) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, err := fmt.Fprintf(s.out, "%s\n\n", body)
	return err
}

// SendReply renders and writes one reply segment.
func (s *ConsoleService) SendReply(ctx context.Context, to string, reply models.Reply) error {
	return s.SendMessage(ctx, to, RenderReply(reply))
}

// Responses returns the inbound message channel.
func (s *ConsoleService) Responses() <-chan models.Response {
	return s.responses
}
