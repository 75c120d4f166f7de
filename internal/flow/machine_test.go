package flow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/HealBot/internal/models"
	"github.com/BTreeMap/HealBot/internal/store"
	"github.com/BTreeMap/HealBot/internal/testutil"
)

const (
	user     = "u1"
	bodyText = "My shoulders feel tense and heavy"
	mindText = "I keep thinking about the deadline"
	selfText = "Overall I am doing fine, a bit tired"
	goodText = "I had a lovely walk in the park at lunch"
)

type harness struct {
	t       *testing.T
	ctx     context.Context
	machine *Machine
	engine  *testutil.FakeReflector
	store   *testutil.FaultyStore
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	engine := testutil.NewFakeReflector()
	fs := testutil.NewFaultyStore(store.NewInMemoryStore())
	opts = append([]Option{WithCrisisLine("Call 000 now")}, opts...)
	return &harness{
		t:       t,
		ctx:     context.Background(),
		machine: NewMachine(fs, engine, opts...),
		engine:  engine,
		store:   fs,
	}
}

func (h *harness) send(text string) models.Outcome {
	h.t.Helper()
	return h.machine.Handle(h.ctx, ParseInput(user, text, ""))
}

func (h *harness) press(a models.Action) models.Outcome {
	h.t.Helper()
	return h.machine.Handle(h.ctx, btn(a))
}

func (h *harness) session() *models.Session {
	h.t.Helper()
	sess, err := h.machine.Inspect(h.ctx, user)
	require.NoError(h.t, err)
	return sess
}

func (h *harness) requireState(want models.State) {
	h.t.Helper()
	require.Equal(h.t, want, h.session().State())
}

// advanceTo walks the practice to the given state along the OK path.
func (h *harness) advanceTo(want models.State) {
	h.t.Helper()
	h.press(models.ActionStart)
	steps := []func(){
		func() { h.send(bodyText) },
		func() { h.send(mindText) },
		func() { h.send(selfText) },
		func() { h.press(models.ActionContinue) },
		func() { h.send(goodText) },
		func() { h.press(models.ActionContinue) },
		func() { h.send(goodText) },
		func() { h.press(models.ActionContinue) },
		func() { h.send(goodText) },
	}
	for _, step := range steps {
		if h.session().State() == want {
			return
		}
		step()
	}
	h.requireState(want)
}

func allText(out models.Outcome) string {
	parts := make([]string, 0, len(out.Replies))
	for _, r := range out.Replies {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n")
}

func lastQuick(out models.Outcome) []models.Action {
	if out.Empty() {
		return nil
	}
	return out.Replies[len(out.Replies)-1].QuickReplies
}

func TestFullPracticeHappyPath(t *testing.T) {
	h := newHarness(t)

	out := h.press(models.ActionStart)
	assert.Contains(t, allText(out), "Having (1/3)")
	assert.Equal(t, []models.Action{models.ActionCancel}, lastQuick(out))
	h.requireState(st(models.StageH, models.SubStageH1, models.WaitingStepInput))

	h.send(bodyText)
	h.requireState(st(models.StageH, models.SubStageH2, models.WaitingStepInput))
	h.send(mindText)
	h.requireState(st(models.StageH, models.SubStageH3, models.WaitingStepInput))
	assert.Equal(t, 0, h.engine.TotalCalls(), "sub-steps must not call the engine")

	out = h.send(selfText)
	assert.Contains(t, allText(out), "Thanks for checking in.")
	assert.Equal(t, []models.Action{models.ActionContinue, models.ActionAskQuestion, models.ActionCancel}, lastQuick(out))
	h.requireState(st(models.StageH, models.SubStageH3, models.WaitingNavigation))

	out = h.press(models.ActionContinue)
	assert.Contains(t, allText(out), "Enriching")
	h.requireState(st(models.StageE, "", models.WaitingStepInput))

	out = h.send(goodText)
	assert.Contains(t, allText(out), "That sounds meaningful.")
	h.requireState(st(models.StageE, "", models.WaitingNavigation))

	h.press(models.ActionAskQuestion)
	h.requireState(st(models.StageE, "", models.WaitingQuestion))
	out = h.send("why?")
	assert.Contains(t, allText(out), "Good question.")
	h.requireState(st(models.StageE, "", models.WaitingNavigation))

	h.press(models.ActionContinue)
	h.send(goodText)
	h.requireState(st(models.StageA, "", models.WaitingNavigation))
	h.press(models.ActionContinue)
	out = h.send(goodText)
	assert.Equal(t, []models.Action{models.ActionFinish, models.ActionAskQuestion, models.ActionCancel}, lastQuick(out))
	h.requireState(st(models.StageL, "", models.WaitingCompletion))

	sess := h.session()
	for _, key := range models.HistoryOrder {
		assert.Contains(t, sess.History, key)
	}
	assert.Equal(t, bodyText, sess.History[models.HistoryKeyH1].UserText)
	assert.Equal(t, "Thanks for checking in.", sess.History[models.HistoryKeyH3].Reflection)
	assert.Equal(t, models.ClassificationOK, sess.Triage)

	out = h.press(models.ActionFinish)
	assert.Contains(t, allText(out), "You noticed")
	assert.Equal(t, []models.Action{models.ActionStart, models.ActionHelp}, lastQuick(out))
	assert.Nil(t, h.session())

	assert.Equal(t, 1, h.engine.Calls(testutil.OpTriage))
	assert.Equal(t, 3, h.engine.Calls(testutil.OpReflect))
	assert.Equal(t, 1, h.engine.Calls(testutil.OpAnswer))
	assert.Equal(t, 1, h.engine.Calls(testutil.OpSummarize))
}

func TestVersionGrowsOnEveryWrite(t *testing.T) {
	h := newHarness(t)
	h.press(models.ActionStart)
	v1 := h.session().Version
	h.send(bodyText)
	v2 := h.session().Version
	assert.Greater(t, v2, v1)
}

func TestIdleInput(t *testing.T) {
	h := newHarness(t)
	out := h.send(goodText)
	assert.Contains(t, allText(out), "/start")
	assert.Equal(t, []models.Action{models.ActionStart, models.ActionHelp}, lastQuick(out))
	assert.Nil(t, h.session())
	assert.Equal(t, 0, h.store.Writes())
}

func TestCancelWhileIdleCreatesNothing(t *testing.T) {
	h := newHarness(t)
	out := h.press(models.ActionCancel)
	assert.Contains(t, allText(out), "cancelled")
	assert.Equal(t, 0, h.store.Writes())
	assert.Nil(t, h.session())
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(st(models.StageE, "", models.WaitingStepInput))

	first := h.send("/cancel")
	assert.Nil(t, h.session())
	second := h.send("/cancel")
	assert.Equal(t, allText(first), allText(second))
	assert.Nil(t, h.session())
}

func TestStartResetsExistingSession(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(st(models.StageA, "", models.WaitingStepInput))

	out := h.press(models.ActionStart)
	assert.NotContains(t, allText(out), "I'm HealBot", "welcome only for new users")
	sess := h.session()
	require.NotNil(t, sess)
	assert.Equal(t, st(models.StageH, models.SubStageH1, models.WaitingStepInput), sess.State())
	assert.Empty(t, sess.History)
}

func TestTooShortInput(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(st(models.StageE, "", models.WaitingStepInput))
	before := h.session()
	writes := h.store.Writes()

	out := h.send("  nice  ")
	assert.Contains(t, allText(out), "more detail")
	assert.Equal(t, before, h.session())
	assert.Equal(t, writes, h.store.Writes())
	assert.Equal(t, 0, h.engine.Calls(testutil.OpReflect))
}

func TestBareNumberDuringStepInputIsTooShort(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(st(models.StageE, "", models.WaitingStepInput))
	before := h.session()

	out := h.send("1")
	assert.Contains(t, allText(out), "more detail")
	require.NotNil(t, h.session())
	assert.Equal(t, before, h.session())
}

func TestTriageNotOKDestroysSession(t *testing.T) {
	h := newHarness(t)
	h.engine.SetTriage(models.ClassificationNotOK, "")
	h.advanceTo(st(models.StageH, models.SubStageH3, models.WaitingStepInput))

	out := h.send(selfText)
	assert.Contains(t, allText(out), "Call 000 now")
	assert.Nil(t, h.session())
}

func TestTriageMixedChoice(t *testing.T) {
	mixed := st(models.StageH, models.SubStageH3, models.WaitingMixedChoice)

	t.Run("free input is ignored", func(t *testing.T) {
		h := newHarness(t)
		h.engine.SetTriage(models.ClassificationMixed, "Some things are hard.")
		h.advanceTo(st(models.StageH, models.SubStageH3, models.WaitingStepInput))
		out := h.send(selfText)
		assert.Equal(t, []models.Action{models.ActionContinue, models.ActionSelfCare, models.ActionCancel}, lastQuick(out))
		h.requireState(mixed)
		assert.Equal(t, models.ClassificationMixed, h.session().Triage)

		writes := h.store.Writes()
		for _, in := range []string{goodText, "/help", "/start", "/finish"} {
			assert.True(t, h.send(in).Empty(), "input %q should be ignored", in)
		}
		h.requireState(mixed)
		assert.Equal(t, writes, h.store.Writes())
	})

	t.Run("continue goes to navigation", func(t *testing.T) {
		h := newHarness(t)
		h.engine.SetTriage(models.ClassificationMixed, "")
		h.advanceTo(st(models.StageH, models.SubStageH3, models.WaitingStepInput))
		h.send(selfText)
		h.press(models.ActionContinue)
		h.requireState(st(models.StageH, models.SubStageH3, models.WaitingNavigation))
		h.press(models.ActionContinue)
		h.requireState(st(models.StageE, "", models.WaitingStepInput))
	})

	t.Run("self-care destroys session", func(t *testing.T) {
		h := newHarness(t)
		h.engine.SetTriage(models.ClassificationMixed, "")
		h.advanceTo(st(models.StageH, models.SubStageH3, models.WaitingStepInput))
		h.send(selfText)
		out := h.press(models.ActionSelfCare)
		assert.Contains(t, allText(out), "Call 000 now")
		assert.Nil(t, h.session())
	})
}

func TestEngineFailureResets(t *testing.T) {
	tests := []struct {
		name  string
		at    models.State
		setup func(f *testutil.FakeReflector)
		do    func(h *harness)
	}{
		{
			name:  "triage",
			at:    st(models.StageH, models.SubStageH3, models.WaitingStepInput),
			setup: func(f *testutil.FakeReflector) { f.TriageErr = testutil.ErrInjected },
			do:    func(h *harness) { h.send(selfText) },
		},
		{
			name:  "reflect",
			at:    st(models.StageE, "", models.WaitingStepInput),
			setup: func(f *testutil.FakeReflector) { f.ReflectErr = testutil.ErrInjected },
			do:    func(h *harness) { h.send(goodText) },
		},
		{
			name:  "answer",
			at:    st(models.StageE, "", models.WaitingNavigation),
			setup: func(f *testutil.FakeReflector) { f.AnswerErr = testutil.ErrInjected },
			do: func(h *harness) {
				h.press(models.ActionAskQuestion)
				h.send("what now?")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.advanceTo(tt.at)
			tt.setup(h.engine)
			tt.do(h)
			out := h.machine.Handle(h.ctx, textEv(goodText))
			assert.Nil(t, h.session(), "session must be destroyed after an engine failure")
			assert.Contains(t, allText(out), "/start", "idle prompt after reset")
		})
	}
}

func TestEngineFailureReply(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(st(models.StageE, "", models.WaitingStepInput))
	h.engine.ReflectErr = testutil.ErrInjected

	out := h.send(goodText)
	assert.Contains(t, allText(out), "start again")
	assert.Equal(t, []models.Action{models.ActionStart}, lastQuick(out))
	assert.Nil(t, h.session())
}

func TestSummaryFailureStillFinishes(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(st(models.StageL, "", models.WaitingCompletion))
	h.engine.SummaryErr = testutil.ErrInjected

	out := h.press(models.ActionFinish)
	assert.Contains(t, allText(out), "Thank you for completing")
	assert.Nil(t, h.session())
}

func TestQuestionAtCompletionReturnsToCompletion(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(st(models.StageL, "", models.WaitingCompletion))
	h.press(models.ActionAskQuestion)
	assert.Equal(t, models.WaitingCompletion, h.session().QuestionReturn)
	h.send("?")
	h.requireState(st(models.StageL, "", models.WaitingCompletion))
	assert.Empty(t, h.session().QuestionReturn)
	assert.Equal(t, models.StageL, h.engine.LastStage())
}

func TestUnroutableInputNudges(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(st(models.StageE, "", models.WaitingNavigation))
	before := h.session()

	out := h.send(goodText)
	assert.Contains(t, allText(out), "use one of the buttons")
	assert.Equal(t, quickRepliesFor(before.State()), lastQuick(out))
	out = h.press(models.ActionFinish)
	assert.Contains(t, allText(out), "use one of the buttons")
	assert.Equal(t, before, h.session())
}

func TestHelpDoesNotMutate(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(st(models.StageA, "", models.WaitingStepInput))
	before := h.session()
	out := h.send("/help")
	assert.Contains(t, allText(out), "Call 000 now")
	assert.Equal(t, before, h.session())
}

func TestStoreReadFailureTreatedAsIdle(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(st(models.StageE, "", models.WaitingStepInput))
	h.store.FailGet(testutil.ErrInjected)

	out := h.send(goodText)
	assert.Contains(t, allText(out), "/start")
	assert.Equal(t, 0, h.engine.Calls(testutil.OpReflect))
}

func TestWriteFailurePolicy(t *testing.T) {
	t.Run("best effort keeps the reply", func(t *testing.T) {
		h := newHarness(t)
		h.advanceTo(st(models.StageE, "", models.WaitingStepInput))
		h.store.FailWrites(testutil.ErrInjected)
		out := h.send(goodText)
		assert.Contains(t, allText(out), "That sounds meaningful.")
		h.store.FailWrites(nil)
		h.requireState(st(models.StageE, "", models.WaitingStepInput))
	})

	t.Run("fail closed apologizes and drops the session", func(t *testing.T) {
		h := newHarness(t, WithWriteFailurePolicy(WriteFailClosed))
		h.advanceTo(st(models.StageE, "", models.WaitingStepInput))
		h.store.FailWrites(testutil.ErrInjected)
		out := h.send(goodText)
		assert.NotContains(t, allText(out), "That sounds meaningful.")
		assert.Contains(t, allText(out), "couldn't save")
		assert.Nil(t, h.session())
	})
}

func TestParseWriteFailurePolicy(t *testing.T) {
	p, err := ParseWriteFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, WriteBestEffort, p)
	p, err = ParseWriteFailurePolicy(" FAIL_CLOSED ")
	require.NoError(t, err)
	assert.Equal(t, WriteFailClosed, p)
	_, err = ParseWriteFailurePolicy("sometimes")
	assert.Error(t, err)
}

func TestCorruptSessionIsReset(t *testing.T) {
	h := newHarness(t)
	bad := models.NewSession(user, time.Now())
	bad.Stage = models.StageE // E with H1 substage
	require.NoError(t, h.store.Set(h.ctx, user, bad, time.Hour))

	out := h.send(goodText)
	assert.Contains(t, allText(out), "could not be resumed")
	assert.Nil(t, h.session())
}

func TestUndecodableSessionRecovers(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rs, err := store.NewRedisStore(store.WithRedisURL("redis://" + mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })
	m := NewMachine(rs, testutil.NewFakeReflector())

	require.NoError(t, mr.Set(store.SessionKey(user), "{not json"))
	out := m.Handle(ctx, ParseInput(user, goodText, ""))
	assert.Contains(t, allText(out), "could not be resumed")
	assert.False(t, mr.Exists(store.SessionKey(user)))

	require.NoError(t, mr.Set(store.SessionKey(user), "{not json"))
	out = m.Handle(ctx, btn(models.ActionStart))
	assert.Contains(t, allText(out), "(1/3)")
	m.Handle(ctx, ParseInput(user, bodyText, ""))

	sess, err := m.Inspect(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, st(models.StageH, models.SubStageH2, models.WaitingStepInput), sess.State())
}

func TestConcurrentEventsSameUser(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(st(models.StageE, "", models.WaitingStepInput))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.machine.Handle(h.ctx, textEv(goodText))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.engine.Calls(testutil.OpReflect), "only the first event reflects, the rest see navigation")
	h.requireState(st(models.StageE, "", models.WaitingNavigation))
}

func TestCrossProcessConflictKeepsWinner(t *testing.T) {
	engine := testutil.NewFakeReflector()
	shared := store.NewInMemoryStore()
	a := NewMachine(shared, engine)
	b := NewMachine(shared, engine)
	ctx := context.Background()

	a.Handle(ctx, btn(models.ActionStart))
	for _, text := range []string{bodyText, mindText, selfText} {
		a.Handle(ctx, textEv(text))
	}
	a.Handle(ctx, btn(models.ActionContinue))

	engine.Gate = make(chan struct{})
	done := make(chan models.Outcome, 1)
	go func() { done <- a.Handle(ctx, textEv(goodText)) }()
	require.Eventually(t, func() bool { return engine.Calls(testutil.OpReflect) == 1 }, time.Second, time.Millisecond)

	// Another instance cancels while the first is waiting on the engine.
	b.Handle(ctx, btn(models.ActionCancel))
	close(engine.Gate)

	out := <-done
	assert.Contains(t, allText(out), "one message at a time")
	sess, err := shared.Get(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, sess, "the winning delete stands")
}

func TestInvalidEventIgnored(t *testing.T) {
	h := newHarness(t)
	out := h.machine.Handle(h.ctx, models.Event{Kind: models.EventText, Text: goodText})
	assert.True(t, out.Empty())
	assert.Equal(t, 0, h.store.Count("get"))
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	h.advanceTo(st(models.StageE, "", models.WaitingStepInput))
	require.NoError(t, h.machine.Reset(h.ctx, user))
	assert.Nil(t, h.session())
}
