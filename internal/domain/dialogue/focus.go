package dialogue

import (
	"context"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/domain/session"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/resolver"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/errs"
)

// FocusTracker derives the subject-of-conversation from a clarification
// selection and assembles the per-turn resolution context for follow-ups.
type FocusTracker struct {
	resolver resolver.Resolver
	window   int
}

// DefaultHistoryWindow bounds follow-up context when none is configured.
const DefaultHistoryWindow = 10

// NewFocusTracker creates a tracker. window caps how many recent turns are
// passed to follow-up resolution (FIFO truncation).
func NewFocusTracker(r resolver.Resolver, window int) *FocusTracker {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &FocusTracker{resolver: r, window: window}
}

// DeriveFocus validates the selection against the offered options and
// delegates to the resolver. A focus naming an option that was never offered
// is rejected even if the resolver produced it.
func (t *FocusTracker) DeriveFocus(ctx context.Context, subject session.SubjectRef, clar *session.ClarificationRequest, selection string) (*session.Focus, error) {
	if clar == nil {
		return nil, errs.New(errs.KindInvalidStateTransition, "no clarification pending")
	}
	if !clar.HasOption(selection) {
		return nil, errs.Newf(errs.KindSelectionNotRecognized, "selection %q is not among the offered options", selection)
	}

	focus, err := t.resolver.ResolveSelection(ctx, subject, clar, selection)
	if err != nil {
		return nil, err
	}
	if focus == nil {
		return nil, errs.New(errs.KindUpstream, "resolver produced no focus")
	}
	if focus.Option == "" {
		focus.Option = selection
	} else if !clar.HasOption(focus.Option) {
		return nil, errs.Newf(errs.KindUpstream, "resolver focus references unoffered option %q", focus.Option)
	}

	return focus, nil
}

// ContextFor assembles focus plus the most recent turns for follow-up
// resolution, keeping context bounded across long-lived sessions.
func (t *FocusTracker) ContextFor(s *session.Session) resolver.Context {
	return resolver.Context{
		Focus:   s.Focus,
		History: s.RecentHistory(t.window),
	}
}
