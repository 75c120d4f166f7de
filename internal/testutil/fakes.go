package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BTreeMap/HealBot/internal/models"
	"github.com/BTreeMap/HealBot/internal/reflection"
	"github.com/BTreeMap/HealBot/internal/store"
)

// ErrInjected is the default error returned by fakes configured to fail.
var ErrInjected = errors.New("injected failure")

// Engine operation names counted by FakeReflector.
const (
	OpReflect   = "reflect"
	OpTriage    = "triage"
	OpAnswer    = "answer"
	OpSummarize = "summarize"
)

// FakeReflector is a scripted reflection engine.
type FakeReflector struct {
	mu sync.Mutex

	ReflectText string
	ReflectErr  error
	TriageOut   reflection.TriageResult
	TriageErr   error
	AnswerText  string
	AnswerErr   error
	SummaryText string
	SummaryErr  error

	// Gate, when set, blocks every call until it yields or ctx ends.
	Gate chan struct{}

	calls     map[string]int
	lastStage models.Stage
}

// NewFakeReflector returns a reflector whose triage answers OK.
func NewFakeReflector() *FakeReflector {
	return &FakeReflector{
		ReflectText: "That sounds meaningful.",
		TriageOut:   reflection.TriageResult{Classification: models.ClassificationOK, Text: "Thanks for checking in.", Parsed: true},
		AnswerText:  "Good question.",
		SummaryText: "You noticed, enriched, absorbed and linked a good moment.",
		calls:       make(map[string]int),
	}
}

func (f *FakeReflector) enter(ctx context.Context, op string, stage models.Stage) error {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	f.lastStage = stage
	gate := f.Gate
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeReflector) Reflect(ctx context.Context, stage models.Stage, userText string, history models.History) (string, error) {
	if err := f.enter(ctx, OpReflect, stage); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ReflectText, f.ReflectErr
}

func (f *FakeReflector) Triage(ctx context.Context, body, mind, selfAssessment string) (reflection.TriageResult, error) {
	if err := f.enter(ctx, OpTriage, models.StageH); err != nil {
		return reflection.TriageResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.TriageOut, f.TriageErr
}

func (f *FakeReflector) AnswerFollowUp(ctx context.Context, stage models.Stage, question string, history models.History) (string, error) {
	if err := f.enter(ctx, OpAnswer, stage); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AnswerText, f.AnswerErr
}

func (f *FakeReflector) Summarize(ctx context.Context, history models.History) (string, error) {
	if err := f.enter(ctx, OpSummarize, models.StageL); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SummaryText, f.SummaryErr
}

// SetTriage scripts the next triage results.
func (f *FakeReflector) SetTriage(c models.Classification, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TriageOut = reflection.TriageResult{Classification: c, Text: text, Parsed: true}
}

// Calls returns how many times op was invoked.
func (f *FakeReflector) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of engine calls of any kind.
func (f *FakeReflector) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// LastStage returns the stage passed to the most recent call.
func (f *FakeReflector) LastStage() models.Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastStage
}

// FaultyStore wraps a SessionStore and injects errors per operation.
type FaultyStore struct {
	inner store.SessionStore

	mu        sync.Mutex
	getErr    error
	writeErr  error
	deleteErr error
	counts    map[string]int
}

var _ store.SessionStore = (*FaultyStore)(nil)

// NewFaultyStore wraps inner, or a fresh in-memory store when inner is nil.
func NewFaultyStore(inner store.SessionStore) *FaultyStore {
	if inner == nil {
		inner = store.NewInMemoryStore()
	}
	return &FaultyStore{inner: inner, counts: make(map[string]int)}
}

// FailGet makes Get return err (nil clears).
func (f *FaultyStore) FailGet(err error) { f.set(&f.getErr, err) }

// FailWrites makes Set and CompareAndSet return err (nil clears).
func (f *FaultyStore) FailWrites(err error) { f.set(&f.writeErr, err) }

// FailDelete makes Delete return err (nil clears).
func (f *FaultyStore) FailDelete(err error) { f.set(&f.deleteErr, err) }

func (f *FaultyStore) set(dst *error, err error) {
	f.mu.Lock()
	*dst = err
	f.mu.Unlock()
}

func (f *FaultyStore) hit(op string, errp *error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[op]++
	return *errp
}

// Count returns how many times op ("get", "set", "cas", "delete") was called.
func (f *FaultyStore) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[op]
}

// Writes returns the number of Set, CompareAndSet and Delete calls.
func (f *FaultyStore) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts["set"] + f.counts["cas"] + f.counts["delete"]
}

func (f *FaultyStore) Get(ctx context.Context, userID string) (*models.Session, error) {
	if err := f.hit("get", &f.getErr); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, userID)
}

func (f *FaultyStore) Set(ctx context.Context, userID string, s *models.Session, ttl time.Duration) error {
	if err := f.hit("set", &f.writeErr); err != nil {
		return err
	}
	return f.inner.Set(ctx, userID, s, ttl)
}

func (f *FaultyStore) CompareAndSet(ctx context.Context, userID string, s *models.Session, expectedVersion int64, ttl time.Duration) error {
	if err := f.hit("cas", &f.writeErr); err != nil {
		return err
	}
	return f.inner.CompareAndSet(ctx, userID, s, expectedVersion, ttl)
}

func (f *FaultyStore) Delete(ctx context.Context, userID string) error {
	if err := f.hit("delete", &f.deleteErr); err != nil {
		return err
	}
	return f.inner.Delete(ctx, userID)
}

func (f *FaultyStore) Close() error {
	return f.inner.Close()
}
