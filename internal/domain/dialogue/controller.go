package dialogue

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/domain/session"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/logging"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/monitoring"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/resolver"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/errs"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/id"
)

// Mode selects the first-round interaction style. It is request-scoped:
// never stored on a session.
type Mode string

const (
	// ModeOnePass answers in a single round, never creating a session.
	ModeOnePass Mode = "onepass"
	// ModeClarify inserts a clarification round when the question is ambiguous.
	ModeClarify Mode = "clarify"
)

// ParseMode validates a client-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOnePass, ModeClarify:
		return Mode(s), nil
	case "":
		return ModeOnePass, nil
	default:
		return "", errs.Newf(errs.KindValidation, "invalid mode %q", s)
	}
}

// AnalyzeResult is the outcome of a first-round request. Either Answer is
// set (ephemeral, no session) or Clarification and SessionID are.
type AnalyzeResult struct {
	Answer        string
	Clarification *session.ClarificationRequest
	SessionID     id.SessionID
}

// NeedsClarification reports whether a session was opened.
func (r *AnalyzeResult) NeedsClarification() bool {
	return r.Clarification != nil
}

// Controller is the dialogue state machine. It validates transitions,
// sequences resolver calls, and is the only writer of session records.
type Controller struct {
	store    *session.Store
	resolver resolver.Resolver
	focus    *FocusTracker
	events   *Events
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewController creates a controller.
func NewController(store *session.Store, r resolver.Resolver, focus *FocusTracker, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		store:    store,
		resolver: r,
		focus:    focus,
		events:   NewEvents(),
		logger:   logger,
	}
}

// WithMetrics attaches a metrics collector.
func (c *Controller) WithMetrics(m *monitoring.Metrics) *Controller {
	c.metrics = m
	return c
}

// Events exposes the turn event hub for presentation subscribers.
func (c *Controller) Events() *Events {
	return c.events
}

// Analyze handles the first round for a subject/question pair.
//
// One-pass mode, or a resolver verdict of "not ambiguous", returns the
// answer with nothing persisted. Only clarify mode with an ambiguity verdict
// creates a session, in state awaiting_clarification.
func (c *Controller) Analyze(ctx context.Context, subject session.SubjectRef, question string, mode Mode) (*AnalyzeResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, c.fail("analyze", errs.New(errs.KindValidation, "question must not be empty"))
	}

	analysis, err := c.resolver.Analyze(ctx, subject, question)
	if err != nil {
		return nil, c.fail("analyze", err)
	}

	if mode != ModeClarify || !analysis.Ambiguous() {
		// Ephemeral: one request, one answer, no record
		return &AnalyzeResult{Answer: analysis.Answer}, nil
	}

	clar := analysis.Clarification
	if err := clar.Validate(); err != nil {
		return nil, c.fail("analyze", err)
	}

	sess := &session.Session{
		Subject: subject,
		State:   session.StateAwaitingClarification,
		Pending: clar,
	}
	sess.AppendTurn(session.TurnInitial, question, clar.Question, time.Now())
	sid := c.store.Create(sess)

	c.logger.Info("clarification session opened",
		zap.String("session_id", sid.String()),
		zap.Int("options", len(clar.Options)),
	)
	if c.metrics != nil {
		c.metrics.IncSessionsCreated()
		c.metrics.SetSessionsActive(c.store.Len())
		c.metrics.RecordTurn(string(session.TurnInitial))
	}
	c.publish(sid, sess.History[len(sess.History)-1])

	return &AnalyzeResult{Clarification: clar, SessionID: sid}, nil
}

// ResolveSelection converts a clarification selection into a focus and
// answers the original question scoped to it.
func (c *Controller) ResolveSelection(ctx context.Context, sid id.SessionID, selection string) (string, error) {
	snap, err := c.get("resolve_selection", sid)
	if err != nil {
		return "", err
	}
	if snap.State != session.StateAwaitingClarification {
		return "", c.fail("resolve_selection",
			errs.Newf(errs.KindInvalidStateTransition, "session %s is not awaiting clarification", sid))
	}

	// Option membership is checked before any resolver call, so an
	// unrecognized selection costs nothing and changes nothing.
	focus, err := c.focus.DeriveFocus(ctx, snap.Subject, snap.Pending, selection)
	if err != nil {
		return "", c.fail("resolve_selection", err)
	}

	originalQuestion := snap.History[0].Input
	answer, err := c.resolver.AnswerFollowup(ctx, snap.Subject, resolver.Context{Focus: focus}, originalQuestion)
	if err != nil {
		return "", c.fail("resolve_selection", err)
	}

	updated, err := c.store.Update(sid, func(s *session.Session) error {
		if s.State != session.StateAwaitingClarification {
			return errs.Newf(errs.KindInvalidStateTransition, "session %s was resolved concurrently", sid)
		}
		s.State = session.StateFocusReady
		s.Focus = focus
		s.Pending = nil
		s.AppendTurn(session.TurnSelection, selection, answer, time.Now())
		return nil
	})
	if err != nil {
		return "", c.fail("resolve_selection", err)
	}

	c.logger.Info("focus resolved",
		zap.String("session_id", sid.String()),
		zap.String("option", focus.Option),
	)
	if c.metrics != nil {
		c.metrics.RecordTurn(string(session.TurnSelection))
	}
	c.publish(sid, updated.History[len(updated.History)-1])

	return answer, nil
}

// Followup answers a question scoped to the session's resolved focus.
func (c *Controller) Followup(ctx context.Context, sid id.SessionID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", c.fail("followup", errs.New(errs.KindValidation, "text must not be empty"))
	}

	snap, err := c.get("followup", sid)
	if err != nil {
		return "", err
	}
	if snap.State != session.StateFocusReady {
		return "", c.fail("followup",
			errs.Newf(errs.KindInvalidStateTransition, "session %s has no resolved focus yet", sid))
	}

	answer, err := c.resolver.AnswerFollowup(ctx, snap.Subject, c.focus.ContextFor(snap), text)
	if err != nil {
		return "", c.fail("followup", err)
	}

	updated, err := c.store.Update(sid, func(s *session.Session) error {
		if s.State != session.StateFocusReady {
			return errs.Newf(errs.KindInvalidStateTransition, "session %s changed state concurrently", sid)
		}
		s.AppendTurn(session.TurnFollowup, text, answer, time.Now())
		return nil
	})
	if err != nil {
		return "", c.fail("followup", err)
	}

	if c.metrics != nil {
		c.metrics.RecordTurn(string(session.TurnFollowup))
	}
	c.publish(sid, updated.History[len(updated.History)-1])

	return answer, nil
}

// EndSession deletes the session. Idempotent: unknown, expired, and
// already-ended ids all succeed.
func (c *Controller) EndSession(sid id.SessionID) {
	if c.store.Delete(sid) {
		c.logger.Info("session ended", zap.String("session_id", sid.String()))
		if c.metrics != nil {
			c.metrics.IncSessionsEnded("client")
			c.metrics.SetSessionsActive(c.store.Len())
		}
	}
	c.events.CloseSession(sid)
}

func (c *Controller) get(op string, sid id.SessionID) (*session.Session, error) {
	snap, err := c.store.Get(sid)
	if err != nil {
		if errs.KindOf(err) == errs.KindSessionExpired && c.metrics != nil {
			c.metrics.IncExpiredHits()
		}
		return nil, c.fail(op, err)
	}
	return snap, nil
}

func (c *Controller) fail(op string, err error) error {
	kind := errs.KindOf(err)
	if c.metrics != nil {
		c.metrics.RecordDialogueError(op, string(kind))
	}
	if kind == errs.KindUpstream {
		c.logger.Warn("resolver call failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

func (c *Controller) publish(sid id.SessionID, turn session.Turn) {
	c.events.Publish(TurnEvent{
		SessionID: sid,
		Kind:      turn.Kind,
		Input:     turn.Input,
		Output:    turn.Output,
		Timestamp: turn.Timestamp,
	})
}
