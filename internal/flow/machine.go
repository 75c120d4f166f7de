package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/HealBot/internal/models"
	"github.com/BTreeMap/HealBot/internal/reflection"
	"github.com/BTreeMap/HealBot/internal/store"
)

// Reflector is the engine surface the machine needs.
type Reflector interface {
	Reflect(ctx context.Context, stage models.Stage, userText string, history models.History) (string, error)
	Triage(ctx context.Context, body, mind, selfAssessment string) (reflection.TriageResult, error)
	AnswerFollowUp(ctx context.Context, stage models.Stage, question string, history models.History) (string, error)
	Summarize(ctx context.Context, history models.History) (string, error)
}

var _ Reflector = (*reflection.Engine)(nil)

// Machine runs the practice for every user: it loads the session, routes
// the event through Transition, performs at most one engine call and writes
// or deletes the session.
type Machine struct {
	sessions *SessionManager
	engine   Reflector
	cfg      Opts
}

// NewMachine creates a Machine over a session store and a reflection engine.
func NewMachine(st store.SessionStore, engine Reflector, opts ...Option) *Machine {
	cfg := applyOpts(opts)
	slog.Debug("Creating Machine", "minInputLength", cfg.MinInputLength, "writePolicy", cfg.WritePolicy, "sessionTTL", cfg.SessionTTL)
	return &Machine{
		sessions: NewSessionManager(st, cfg.SessionTTL, cfg.StoreTimeout),
		engine:   engine,
		cfg:      cfg,
	}
}

// Handle processes one inbound event and returns the ordered replies.
// An empty outcome means the event was ignored.
func (m *Machine) Handle(ctx context.Context, ev models.Event) models.Outcome {
	var out models.Outcome
	if err := ev.Validate(); err != nil {
		slog.Warn("Machine.Handle: invalid event", "error", err, "userID", ev.UserID)
		return out
	}

	unlock, err := m.sessions.Lock(ctx, ev.UserID)
	if err != nil {
		slog.Warn("Machine.Handle: lock not acquired", "error", err, "userID", ev.UserID)
		out.Add(msgConflict)
		return out
	}
	defer unlock()

	sess, err := m.sessions.Load(ctx, ev.UserID)
	state := sess.State()
	ev = resolveChoice(state, ev)
	if err != nil {
		// undecodable record: drop it so start and cancel work from idle
		slog.Warn("Machine.Handle: stored session is undecodable", "error", err, "userID", ev.UserID)
		m.remove(ctx, ev.UserID, "undecodable")
		if ev.Action != models.ActionStart && ev.Action != models.ActionCancel {
			out.Add(msgCorrupt, quickRepliesFor(models.IdleState())...)
			return out
		}
	}

	var d Decision
	if sess != nil && ev.Action != models.ActionCancel && ev.Action != models.ActionStart {
		if err := sess.Validate(); err != nil {
			slog.Warn("Machine.Handle: stored session is invalid", "error", err, "userID", ev.UserID)
			d = Decision{Effect: EffectCorrupt, Next: models.IdleState()}
		}
	}
	if d.Effect == EffectNone {
		d = Transition(state, ev, m.cfg.MinInputLength)
	}
	slog.Debug("Machine.Handle", "userID", ev.UserID, "kind", ev.Kind, "action", ev.Action, "state", state, "effect", d.Effect, "next", d.Next)

	return m.apply(ctx, ev, sess, d)
}

func (m *Machine) apply(ctx context.Context, ev models.Event, sess *models.Session, d Decision) models.Outcome {
	var out models.Outcome
	state := sess.State()
	text := strings.TrimSpace(ev.Text)

	switch d.Effect {
	case EffectHelp:
		out.Add(m.helpText(), quickRepliesFor(state)...)
		return out

	case EffectIdlePrompt:
		out.Add(msgIdle, quickRepliesFor(state)...)
		return out

	case EffectTooShort:
		out.Add(msgTooShort, quickRepliesFor(state)...)
		return out

	case EffectNudge:
		out.Add(msgNudge, quickRepliesFor(state)...)
		return out

	case EffectIgnore:
		return out

	case EffectStart:
		fresh := models.NewSession(ev.UserID, m.cfg.Now())
		if sess == nil {
			out.Add(msgWelcome)
		}
		out.Add(stepPrompt(fresh.State()), quickRepliesFor(fresh.State())...)
		return m.commit(ctx, fresh, versionOf(sess), out)

	case EffectCancel:
		out.Add(msgCancelled, quickRepliesFor(models.IdleState())...)
		if sess == nil {
			return out
		}
		m.remove(ctx, ev.UserID, "cancel")
		return out

	case EffectSelfCare:
		m.remove(ctx, ev.UserID, "self_care")
		out.Add(m.careText(), quickRepliesFor(models.IdleState())...)
		return out

	case EffectCorrupt:
		m.remove(ctx, ev.UserID, "corrupt")
		out.Add(msgCorrupt, quickRepliesFor(models.IdleState())...)
		return out

	case EffectRecordSubStep:
		next := sess.Clone()
		if err := next.Record(models.HistoryKeyFor(state.Stage, state.SubStage), m.entry(text, "")); err != nil {
			return m.corrupt(ctx, ev.UserID, err)
		}
		next.SubStage = d.Next.SubStage
		next.WaitingFor = d.Next.WaitingFor
		out.Add(stepPrompt(next.State()), quickRepliesFor(next.State())...)
		return m.commit(ctx, next, sess.Version, out)

	case EffectTriage:
		return m.triage(ctx, sess, text)

	case EffectReflect:
		ectx, cancel := context.WithTimeout(ctx, m.cfg.EngineTimeout)
		reflected, err := m.engine.Reflect(ectx, state.Stage, text, sess.History)
		cancel()
		if err != nil {
			return m.engineFailed(ctx, ev.UserID, "reflect", err)
		}
		next := sess.Clone()
		if err := next.Record(models.HistoryKeyFor(state.Stage, state.SubStage), m.entry(text, reflected)); err != nil {
			return m.corrupt(ctx, ev.UserID, err)
		}
		next.WaitingFor = d.Next.WaitingFor
		out.Add(reflectionHeader(state.Stage) + "\n\n" + reflected)
		out.Add(menuPrompt(next.State()), quickRepliesFor(next.State())...)
		return m.commit(ctx, next, sess.Version, out)

	case EffectEnterQuestion:
		next := sess.Clone()
		next.QuestionReturn = state.WaitingFor
		next.WaitingFor = models.WaitingQuestion
		out.Add(msgAskPrompt, quickRepliesFor(next.State())...)
		return m.commit(ctx, next, sess.Version, out)

	case EffectAnswer:
		ectx, cancel := context.WithTimeout(ctx, m.cfg.EngineTimeout)
		answer, err := m.engine.AnswerFollowUp(ectx, state.Stage, text, sess.History)
		cancel()
		if err != nil {
			return m.engineFailed(ctx, ev.UserID, "answer", err)
		}
		next := sess.Clone()
		next.WaitingFor = sess.QuestionReturn
		next.QuestionReturn = ""
		out.Add(answer)
		out.Add(menuPrompt(next.State()), quickRepliesFor(next.State())...)
		return m.commit(ctx, next, sess.Version, out)

	case EffectAdvance:
		next := sess.Clone()
		if !next.AdvanceStage() {
			return m.corrupt(ctx, ev.UserID, fmt.Errorf("cannot advance past stage %s", state.Stage))
		}
		out.Add(stepPrompt(next.State()), quickRepliesFor(next.State())...)
		return m.commit(ctx, next, sess.Version, out)

	case EffectMixedContinue:
		next := sess.Clone()
		next.WaitingFor = models.WaitingNavigation
		out.Add(menuPrompt(next.State()), quickRepliesFor(next.State())...)
		return m.commit(ctx, next, sess.Version, out)

	case EffectFinish:
		ectx, cancel := context.WithTimeout(ctx, m.cfg.EngineTimeout)
		summary, err := m.engine.Summarize(ectx, sess.History)
		cancel()
		m.remove(ctx, ev.UserID, "finish")
		if err != nil {
			slog.Error("Machine.Handle: summary failed", "error", err, "userID", ev.UserID)
			out.Add(msgFarewellGeneric, quickRepliesFor(models.IdleState())...)
			return out
		}
		out.Add("📝 Your practice today\n\n" + summary)
		out.Add(msgFarewell, quickRepliesFor(models.IdleState())...)
		return out
	}

	slog.Error("Machine.Handle: unhandled effect", "effect", d.Effect, "userID", ev.UserID)
	return m.corrupt(ctx, ev.UserID, fmt.Errorf("unhandled effect %s", d.Effect))
}

func (m *Machine) triage(ctx context.Context, sess *models.Session, selfAssessment string) models.Outcome {
	var out models.Outcome
	userID := sess.UserID
	body := sess.History[models.HistoryKeyH1].UserText
	mind := sess.History[models.HistoryKeyH2].UserText

	ectx, cancel := context.WithTimeout(ctx, m.cfg.EngineTimeout)
	res, err := m.engine.Triage(ectx, body, mind, selfAssessment)
	cancel()
	if err != nil {
		return m.engineFailed(ctx, userID, "triage", err)
	}
	slog.Info("Machine.Handle: triage", "userID", userID, "classification", res.Classification, "parsed", res.Parsed)

	if res.Classification == models.ClassificationNotOK {
		m.remove(ctx, userID, "triage_not_ok")
		out.Add(m.careText(), quickRepliesFor(models.IdleState())...)
		return out
	}

	next := sess.Clone()
	if err := next.Record(models.HistoryKeyH3, m.entry(selfAssessment, res.Text)); err != nil {
		return m.corrupt(ctx, userID, err)
	}
	next.Triage = res.Classification
	if res.Text != "" {
		out.Add(res.Text)
	}
	if res.Classification == models.ClassificationMixed {
		next.WaitingFor = models.WaitingMixedChoice
		out.Add(msgMixed, quickRepliesFor(next.State())...)
	} else {
		next.WaitingFor = models.WaitingNavigation
		out.Add(menuPrompt(next.State()), quickRepliesFor(next.State())...)
	}
	return m.commit(ctx, next, sess.Version, out)
}

// commit writes next and returns out, or the reply dictated by the write
// failure policy.
func (m *Machine) commit(ctx context.Context, next *models.Session, expectedVersion int64, out models.Outcome) models.Outcome {
	next.UpdatedAt = m.cfg.Now()
	err := m.sessions.Save(ctx, next, expectedVersion)
	if err == nil {
		return out
	}
	if errors.Is(err, store.ErrVersionConflict) {
		slog.Warn("Machine.Handle: concurrent update rejected", "userID", next.UserID, "expectedVersion", expectedVersion)
		var conflict models.Outcome
		conflict.Add(msgConflict)
		return conflict
	}
	slog.Error("Machine.Handle: session write failed", "error", err, "userID", next.UserID, "policy", m.cfg.WritePolicy)
	if m.cfg.WritePolicy == WriteFailClosed {
		m.remove(ctx, next.UserID, "write_failed")
		var failed models.Outcome
		failed.Add(msgStoreFail, models.ActionStart)
		return failed
	}
	return out
}

// remove deletes the session. The TTL bounds a session whose delete failed,
// so the failure is only logged.
func (m *Machine) remove(ctx context.Context, userID, reason string) {
	if err := m.sessions.Delete(ctx, userID); err != nil {
		slog.Error("Machine.Handle: session delete failed", "error", err, "userID", userID, "reason", reason)
		return
	}
	slog.Debug("Machine.Handle: session destroyed", "userID", userID, "reason", reason)
}

func (m *Machine) engineFailed(ctx context.Context, userID, op string, err error) models.Outcome {
	slog.Error("Machine.Handle: engine call failed, resetting", "op", op, "error", err, "userID", userID)
	m.remove(ctx, userID, "engine_failed")
	var out models.Outcome
	out.Add(msgEngineFail, models.ActionStart)
	return out
}

func (m *Machine) corrupt(ctx context.Context, userID string, err error) models.Outcome {
	slog.Error("Machine.Handle: inconsistent session, resetting", "error", err, "userID", userID)
	m.remove(ctx, userID, "corrupt")
	var out models.Outcome
	out.Add(msgCorrupt, quickRepliesFor(models.IdleState())...)
	return out
}

func (m *Machine) entry(userText, reflected string) models.HistoryEntry {
	return models.HistoryEntry{UserText: userText, Reflection: reflected, RecordedAt: m.cfg.Now()}
}

// Inspect returns the user's live session without locking.
func (m *Machine) Inspect(ctx context.Context, userID string) (*models.Session, error) {
	return m.sessions.Peek(ctx, userID)
}

// Reset destroys the user's session under the user's lock.
func (m *Machine) Reset(ctx context.Context, userID string) error {
	unlock, err := m.sessions.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()
	return m.sessions.Delete(ctx, userID)
}

func versionOf(s *models.Session) int64 {
	if s == nil {
		return 0
	}
	return s.Version
}
