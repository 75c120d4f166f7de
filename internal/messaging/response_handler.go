package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/BTreeMap/HealBot/internal/flow"
	"github.com/BTreeMap/HealBot/internal/models"
	"github.com/BTreeMap/HealBot/internal/store"
)

// DefaultMaxConcurrent bounds how many inbound messages are processed at once.
const DefaultMaxConcurrent = 16

// EventHandler runs one inbound event through the practice.
type EventHandler interface {
	Handle(ctx context.Context, ev models.Event) models.Outcome
}

var _ EventHandler = (*flow.Machine)(nil)

// HandlerOpts configures a ResponseHandler.
type HandlerOpts struct {
	Dedup         store.DedupRepo
	MaxConcurrent int64
}

// HandlerOption configures a ResponseHandler.
type HandlerOption func(*HandlerOpts)

// WithDedup drops inbound messages whose id was already recorded.
func WithDedup(repo store.DedupRepo) HandlerOption {
	return func(o *HandlerOpts) { o.Dedup = repo }
}

// WithMaxConcurrent bounds concurrent message processing.
func WithMaxConcurrent(n int64) HandlerOption {
	return func(o *HandlerOpts) { o.MaxConcurrent = n }
}

// ResponseHandler consumes inbound messages from a Service, runs them through
// the practice and sends the replies back in order.
type ResponseHandler struct {
	svc     Service
	handler EventHandler
	dedup   store.DedupRepo
	sem     *semaphore.Weighted
}

// NewResponseHandler creates a ResponseHandler.
func NewResponseHandler(svc Service, handler EventHandler, opts ...HandlerOption) *ResponseHandler {
	cfg := HandlerOpts{MaxConcurrent: DefaultMaxConcurrent}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &ResponseHandler{
		svc:     svc,
		handler: handler,
		dedup:   cfg.Dedup,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// ProcessResponse handles one inbound message end to end.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, resp models.Response) error {
	from, err := rh.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		slog.Error("ResponseHandler ProcessResponse validation failed", "error", err, "from", resp.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	if rh.dedup != nil && resp.MessageID != "" {
		fresh, err := rh.dedup.RecordInbound(ctx, resp.MessageID, from)
		if err != nil {
			slog.Warn("ResponseHandler dedup check failed, processing anyway", "error", err, "messageID", resp.MessageID)
		} else if !fresh {
			slog.Info("ResponseHandler dropping duplicate message", "from", from, "messageID", resp.MessageID)
			return nil
		}
	}

	ev := flow.ParseInput(from, resp.Body, resp.MessageID)
	out := rh.handler.Handle(ctx, ev)
	slog.Debug("ResponseHandler handled message", "from", from, "kind", ev.Kind, "action", ev.Action, "replies", len(out.Replies))

	for i, reply := range out.Replies {
		if err := rh.svc.SendReply(ctx, from, reply); err != nil {
			slog.Error("ResponseHandler failed to send reply", "error", err, "from", from, "segment", i)
			return fmt.Errorf("send reply %d: %w", i, err)
		}
	}

	if rh.dedup != nil && resp.MessageID != "" {
		if err := rh.dedup.MarkProcessed(ctx, resp.MessageID); err != nil {
			slog.Warn("ResponseHandler MarkProcessed failed", "error", err, "messageID", resp.MessageID)
		}
	}
	return nil
}

// Run processes inbound messages until ctx is done or the service closes
// its responses channel, then waits for in-flight messages.
func (rh *ResponseHandler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	responses := rh.svc.Responses()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("ResponseHandler stopping: context done")
			return nil
		case resp, ok := <-responses:
			if !ok {
				slog.Debug("ResponseHandler stopping: responses channel closed")
				return nil
			}
			if err := rh.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			wg.Add(1)
			go func(resp models.Response) {
				defer wg.Done()
				defer rh.sem.Release(1)
				if err := rh.ProcessResponse(ctx, resp); err != nil {
					slog.Error("ResponseHandler Run: message failed", "error", err, "from", resp.From)
				}
			}(resp)
		}
	}
}
