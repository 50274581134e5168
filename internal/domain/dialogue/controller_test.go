package dialogue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/domain/session"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/logging"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/resolver"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/errs"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/id"
)

// MockResolver is a testify mock of the resolver contract.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Analyze(ctx context.Context, subject session.SubjectRef, question string) (*resolver.Analysis, error) {
	args := m.Called(ctx, subject, question)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*resolver.Analysis), args.Error(1)
}

func (m *MockResolver) ResolveSelection(ctx context.Context, subject session.SubjectRef, clar *session.ClarificationRequest, selection string) (*session.Focus, error) {
	args := m.Called(ctx, subject, clar, selection)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Focus), args.Error(1)
}

func (m *MockResolver) AnswerFollowup(ctx context.Context, subject session.SubjectRef, rctx resolver.Context, question string) (string, error) {
	args := m.Called(ctx, subject, rctx, question)
	return args.String(0), args.Error(1)
}

func testSubject() session.SubjectRef {
	return session.SubjectRef{
		ID:   id.NewSubjectID(),
		Path: "/tmp/vqa-uploads/x.jpg",
		MIME: "image/jpeg",
		Kind: session.SubjectImage,
	}
}

func ambiguousAnalysis() *resolver.Analysis {
	return &resolver.Analysis{
		Answer: "I see a car and a shirt.",
		Clarification: &session.ClarificationRequest{
			Question: "Which one?",
			Options:  []string{"car", "shirt"},
		},
	}
}

func newTestController(r resolver.Resolver) (*Controller, *session.Store) {
	store := session.NewStore()
	return NewController(store, r, NewFocusTracker(r, 10), logging.NewNop()), store
}

func TestAnalyzeOnePassNeverPersists(t *testing.T) {
	r := new(MockResolver)
	r.On("Analyze", mock.Anything, mock.Anything, "what color is it").
		Return(ambiguousAnalysis(), nil)

	ctrl, store := newTestController(r)

	res, err := ctrl.Analyze(context.Background(), testSubject(), "what color is it", ModeOnePass)
	require.NoError(t, err)

	assert.False(t, res.NeedsClarification())
	assert.NotEmpty(t, res.Answer)
	assert.Empty(t, res.SessionID)
	assert.Equal(t, 0, store.Len())
}

func TestAnalyzeClarifyUnambiguousIsEphemeral(t *testing.T) {
	r := new(MockResolver)
	r.On("Analyze", mock.Anything, mock.Anything, "how many cars").
		Return(&resolver.Analysis{Answer: "two"}, nil)

	ctrl, store := newTestController(r)

	res, err := ctrl.Analyze(context.Background(), testSubject(), "how many cars", ModeClarify)
	require.NoError(t, err)

	assert.Equal(t, "two", res.Answer)
	assert.False(t, res.NeedsClarification())
	assert.Equal(t, 0, store.Len())
}

func TestAnalyzeClarifyOpensSession(t *testing.T) {
	r := new(MockResolver)
	r.On("Analyze", mock.Anything, mock.Anything, "what color is it").
		Return(ambiguousAnalysis(), nil)

	ctrl, store := newTestController(r)

	res, err := ctrl.Analyze(context.Background(), testSubject(), "what color is it", ModeClarify)
	require.NoError(t, err)

	require.True(t, res.NeedsClarification())
	assert.Equal(t, "Which one?", res.Clarification.Question)
	assert.Equal(t, []string{"car", "shirt"}, res.Clarification.Options)
	assert.NotEmpty(t, res.SessionID)

	sess, err := store.Get(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StateAwaitingClarification, sess.State)
	require.NotNil(t, sess.Pending)
	require.Len(t, sess.History, 1)
	assert.Equal(t, session.TurnInitial, sess.History[0].Kind)
	assert.Equal(t, "what color is it", sess.History[0].Input)
}

func TestAnalyzeEmptyQuestion(t *testing.T) {
	r := new(MockResolver)
	ctrl, _ := newTestController(r)

	_, err := ctrl.Analyze(context.Background(), testSubject(), "   ", ModeClarify)
	assert.True(t, errors.Is(err, errs.ErrValidation))
	r.AssertNotCalled(t, "Analyze")
}

func TestAnalyzeResolverFailure(t *testing.T) {
	r := new(MockResolver)
	r.On("Analyze", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errs.New(errs.KindUpstream, "vision service down"))

	ctrl, store := newTestController(r)

	_, err := ctrl.Analyze(context.Background(), testSubject(), "what is this", ModeClarify)
	assert.True(t, errors.Is(err, errs.ErrUpstream))
	assert.Equal(t, 0, store.Len())
}

func TestAnalyzeMalformedClarification(t *testing.T) {
	r := new(MockResolver)
	r.On("Analyze", mock.Anything, mock.Anything, mock.Anything).
		Return(&resolver.Analysis{
			Answer:        "hm",
			Clarification: &session.ClarificationRequest{Question: "Which?", Options: []string{"only-one"}},
		}, nil)

	ctrl, store := newTestController(r)

	_, err := ctrl.Analyze(context.Background(), testSubject(), "what color", ModeClarify)
	assert.True(t, errors.Is(err, errs.ErrUpstream))
	assert.Equal(t, 0, store.Len())
}

// openSession drives Analyze through the clarify path and returns the id.
func openSession(t *testing.T, ctrl *Controller, r *MockResolver, subject session.SubjectRef) id.SessionID {
	t.Helper()
	r.On("Analyze", mock.Anything, mock.Anything, "what color is it").
		Return(ambiguousAnalysis(), nil).Once()

	res, err := ctrl.Analyze(context.Background(), subject, "what color is it", ModeClarify)
	require.NoError(t, err)
	require.True(t, res.NeedsClarification())
	return res.SessionID
}

func TestResolveSelectionHappyPath(t *testing.T) {
	r := new(MockResolver)
	ctrl, store := newTestController(r)
	subject := testSubject()
	sid := openSession(t, ctrl, r, subject)

	r.On("ResolveSelection", mock.Anything, mock.Anything, mock.Anything, "car").
		Return(&session.Focus{Option: "car", Label: "car #1 (red)"}, nil)
	r.On("AnswerFollowup", mock.Anything, mock.Anything, mock.Anything, "what color is it").
		Return("red", nil)

	answer, err := ctrl.ResolveSelection(context.Background(), sid, "car")
	require.NoError(t, err)
	assert.Equal(t, "red", answer)

	sess, err := store.Get(sid)
	require.NoError(t, err)
	assert.Equal(t, session.StateFocusReady, sess.State)
	assert.Nil(t, sess.Pending)
	require.NotNil(t, sess.Focus)
	assert.Equal(t, "car", sess.Focus.Option)
	require.Len(t, sess.History, 2)
	assert.Equal(t, session.TurnSelection, sess.History[1].Kind)
}

func TestResolveSelectionUnrecognizedOption(t *testing.T) {
	r := new(MockResolver)
	ctrl, store := newTestController(r)
	sid := openSession(t, ctrl, r, testSubject())

	before, err := store.Get(sid)
	require.NoError(t, err)

	_, err = ctrl.ResolveSelection(context.Background(), sid, "bicycle")
	assert.True(t, errors.Is(err, errs.ErrSelectionNotRecognized))
	r.AssertNotCalled(t, "ResolveSelection")

	// State and history untouched
	after, err := store.Get(sid)
	require.NoError(t, err)
	assert.Equal(t, before.State, after.State)
	assert.Len(t, after.History, len(before.History))
	require.NotNil(t, after.Pending)

	// A subsequent valid selection still succeeds
	r.On("ResolveSelection", mock.Anything, mock.Anything, mock.Anything, "car").
		Return(&session.Focus{Option: "car"}, nil)
	r.On("AnswerFollowup", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("red", nil)

	answer, err := ctrl.ResolveSelection(context.Background(), sid, "car")
	require.NoError(t, err)
	assert.Equal(t, "red", answer)
}

func TestResolveSelectionUpstreamFailureLeavesStateUnchanged(t *testing.T) {
	r := new(MockResolver)
	ctrl, store := newTestController(r)
	sid := openSession(t, ctrl, r, testSubject())

	r.On("ResolveSelection", mock.Anything, mock.Anything, mock.Anything, "car").
		Return(nil, errs.New(errs.KindUpstream, "timeout")).Once()

	_, err := ctrl.ResolveSelection(context.Background(), sid, "car")
	assert.True(t, errors.Is(err, errs.ErrUpstream))

	sess, err := store.Get(sid)
	require.NoError(t, err)
	assert.Equal(t, session.StateAwaitingClarification, sess.State)
	assert.Len(t, sess.History, 1)

	// Retry of the same operation succeeds
	r.On("ResolveSelection", mock.Anything, mock.Anything, mock.Anything, "car").
		Return(&session.Focus{Option: "car"}, nil)
	r.On("AnswerFollowup", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("red", nil)

	answer, err := ctrl.ResolveSelection(context.Background(), sid, "car")
	require.NoError(t, err)
	assert.Equal(t, "red", answer)
}

func TestResolveSelectionWrongState(t *testing.T) {
	r := new(MockResolver)
	ctrl, _ := newTestController(r)
	sid := openSession(t, ctrl, r, testSubject())

	r.On("ResolveSelection", mock.Anything, mock.Anything, mock.Anything, "car").
		Return(&session.Focus{Option: "car"}, nil)
	r.On("AnswerFollowup", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("red", nil)

	_, err := ctrl.ResolveSelection(context.Background(), sid, "car")
	require.NoError(t, err)

	// Second resolution round is not part of the protocol
	_, err = ctrl.ResolveSelection(context.Background(), sid, "shirt")
	assert.True(t, errors.Is(err, errs.ErrInvalidStateTransition))
}

func TestResolveSelectionUnknownSession(t *testing.T) {
	r := new(MockResolver)
	ctrl, _ := newTestController(r)

	_, err := ctrl.ResolveSelection(context.Background(), "sess_missing", "car")
	assert.True(t, errors.Is(err, errs.ErrSessionNotFound))
}

func TestFollowupHappyPath(t *testing.T) {
	r := new(MockResolver)
	ctrl, store := newTestController(r)
	sid := openSession(t, ctrl, r, testSubject())

	r.On("ResolveSelection", mock.Anything, mock.Anything, mock.Anything, "car").
		Return(&session.Focus{Option: "car"}, nil)
	r.On("AnswerFollowup", mock.Anything, mock.Anything, mock.Anything, "what color is it").
		Return("red", nil)

	_, err := ctrl.ResolveSelection(context.Background(), sid, "car")
	require.NoError(t, err)

	r.On("AnswerFollowup", mock.Anything, mock.Anything, mock.MatchedBy(func(rctx resolver.Context) bool {
		return rctx.Focus != nil && rctx.Focus.Option == "car" && len(rctx.History) == 2
	}), "is it new?").Return("no", nil)

	answer, err := ctrl.Followup(context.Background(), sid, "is it new?")
	require.NoError(t, err)
	assert.Equal(t, "no", answer)

	sess, err := store.Get(sid)
	require.NoError(t, err)
	require.Len(t, sess.History, 3)
	assert.Equal(t, session.TurnFollowup, sess.History[2].Kind)
}

func TestFollowupBeforeFocusReady(t *testing.T) {
	r := new(MockResolver)
	ctrl, store := newTestController(r)
	sid := openSession(t, ctrl, r, testSubject())

	_, err := ctrl.Followup(context.Background(), sid, "is it new?")
	assert.True(t, errors.Is(err, errs.ErrInvalidStateTransition))

	sess, err := store.Get(sid)
	require.NoError(t, err)
	assert.Len(t, sess.History, 1)
}

func TestFollowupUnknownSession(t *testing.T) {
	r := new(MockResolver)
	ctrl, _ := newTestController(r)

	_, err := ctrl.Followup(context.Background(), "sess_missing", "is it new?")
	assert.True(t, errors.Is(err, errs.ErrSessionNotFound))
}

func TestEndSessionIdempotent(t *testing.T) {
	r := new(MockResolver)
	ctrl, store := newTestController(r)
	sid := openSession(t, ctrl, r, testSubject())

	assert.NotPanics(t, func() {
		ctrl.EndSession(sid)
		ctrl.EndSession(sid)
		ctrl.EndSession("sess_never_existed")
	})
	assert.Equal(t, 0, store.Len())

	_, err := ctrl.Followup(context.Background(), sid, "still there?")
	assert.True(t, errors.Is(err, errs.ErrSessionNotFound))
}

func TestHistoryGrowsByOnePerOperation(t *testing.T) {
	r := new(MockResolver)
	ctrl, store := newTestController(r)
	sid := openSession(t, ctrl, r, testSubject())

	r.On("ResolveSelection", mock.Anything, mock.Anything, mock.Anything, "car").
		Return(&session.Focus{Option: "car"}, nil)
	r.On("AnswerFollowup", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("answer", nil)

	_, err := ctrl.ResolveSelection(context.Background(), sid, "car")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := ctrl.Followup(context.Background(), sid, "and then?")
		require.NoError(t, err)
	}

	sess, err := store.Get(sid)
	require.NoError(t, err)
	// initial + selection + 4 followups
	require.Len(t, sess.History, 6)

	// Turns are in order and never rewritten
	assert.Equal(t, session.TurnInitial, sess.History[0].Kind)
	assert.Equal(t, session.TurnSelection, sess.History[1].Kind)
	for i := 2; i < 6; i++ {
		assert.Equal(t, session.TurnFollowup, sess.History[i].Kind)
	}
	for i := 1; i < len(sess.History); i++ {
		assert.False(t, sess.History[i].Timestamp.Before(sess.History[i-1].Timestamp))
	}
}

func TestLastActivityNeverDecreases(t *testing.T) {
	r := new(MockResolver)
	ctrl, store := newTestController(r)
	sid := openSession(t, ctrl, r, testSubject())

	first, err := store.Get(sid)
	require.NoError(t, err)

	r.On("ResolveSelection", mock.Anything, mock.Anything, mock.Anything, "car").
		Return(&session.Focus{Option: "car"}, nil)
	r.On("AnswerFollowup", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("red", nil)

	time.Sleep(5 * time.Millisecond)
	_, err = ctrl.ResolveSelection(context.Background(), sid, "car")
	require.NoError(t, err)

	second, err := store.Get(sid)
	require.NoError(t, err)
	assert.True(t, second.LastActivity.After(first.LastActivity))
}

func TestPublishedEventsMatchStoredTurns(t *testing.T) {
	r := new(MockResolver)
	ctrl, store := newTestController(r)
	sid := openSession(t, ctrl, r, testSubject())

	ch, cancel := ctrl.Events().Subscribe(sid)
	defer cancel()

	r.On("ResolveSelection", mock.Anything, mock.Anything, mock.Anything, "car").
		Return(&session.Focus{Option: "car"}, nil)
	r.On("AnswerFollowup", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("red", nil)

	_, err := ctrl.ResolveSelection(context.Background(), sid, "car")
	require.NoError(t, err)
	_, err = ctrl.Followup(context.Background(), sid, "is it new?")
	require.NoError(t, err)

	sess, err := store.Get(sid)
	require.NoError(t, err)
	require.Len(t, sess.History, 3)

	// Subscribers see exactly the committed turns, timestamps included
	for _, want := range sess.History[1:] {
		select {
		case ev := <-ch:
			assert.Equal(t, want.Kind, ev.Kind)
			assert.Equal(t, want.Input, ev.Input)
			assert.Equal(t, want.Output, ev.Output)
			assert.True(t, ev.Timestamp.Equal(want.Timestamp))
		case <-time.After(time.Second):
			t.Fatalf("no event for %s turn", want.Kind)
		}
	}
}

func TestScenarioFullDialogue(t *testing.T) {
	r := new(MockResolver)
	ctrl, store := newTestController(r)
	subject := testSubject()

	r.On("Analyze", mock.Anything, mock.Anything, "what color is it").
		Return(ambiguousAnalysis(), nil)
	r.On("ResolveSelection", mock.Anything, mock.Anything, mock.Anything, "car").
		Return(&session.Focus{Option: "car"}, nil)
	r.On("AnswerFollowup", mock.Anything, mock.Anything, mock.Anything, "what color is it").
		Return("red", nil)
	r.On("AnswerFollowup", mock.Anything, mock.Anything, mock.Anything, "is it new?").
		Return("no", nil)

	// Analyze -> clarification
	res, err := ctrl.Analyze(context.Background(), subject, "what color is it", ModeClarify)
	require.NoError(t, err)
	require.True(t, res.NeedsClarification())
	sid := res.SessionID

	// Wrong selection first
	_, err = ctrl.ResolveSelection(context.Background(), sid, "bicycle")
	require.True(t, errors.Is(err, errs.ErrSelectionNotRecognized))

	// Valid selection
	answer, err := ctrl.ResolveSelection(context.Background(), sid, "car")
	require.NoError(t, err)
	assert.Equal(t, "red", answer)

	// Followup
	answer, err = ctrl.Followup(context.Background(), sid, "is it new?")
	require.NoError(t, err)
	assert.Equal(t, "no", answer)

	// End twice, both fine
	ctrl.EndSession(sid)
	ctrl.EndSession(sid)
	assert.Equal(t, 0, store.Len())
}
