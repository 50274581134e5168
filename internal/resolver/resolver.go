// Package resolver defines the consumed contract of the external vision
// capability: visual question answering, ambiguity detection, and
// selection-to-focus resolution.
//
// The dialogue core treats this capability as fallible and possibly slow. It
// never retries a resolver call itself; a failure surfaces to the caller as
// an upstream error with session state untouched, so the same operation can
// be retried safely. Transport-level retries live inside the HTTP client.
package resolver

import (
	"context"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/domain/session"
)

// Analysis is the outcome of a first-round analyze call. Answer is always
// populated with a direct response; Clarification is non-nil when the
// resolver judged the question ambiguous and wants the user to pick.
type Analysis struct {
	Answer        string                        `json:"answer"`
	Clarification *session.ClarificationRequest `json:"clarification,omitempty"`
}

// Ambiguous reports whether the resolver asked for a clarification round.
func (a *Analysis) Ambiguous() bool {
	return a.Clarification != nil
}

// Context is the bounded resolution context assembled for follow-up turns:
// the resolved focus plus the most recent history window.
type Context struct {
	Focus   *session.Focus `json:"focus"`
	History []session.Turn `json:"history,omitempty"`
}

// Resolver is the external image/video understanding capability.
type Resolver interface {
	// Analyze answers a first question about a subject, possibly asking
	// for clarification instead.
	Analyze(ctx context.Context, subject session.SubjectRef, question string) (*Analysis, error)

	// ResolveSelection converts a chosen clarification option into a focus.
	ResolveSelection(ctx context.Context, subject session.SubjectRef, clar *session.ClarificationRequest, selection string) (*session.Focus, error)

	// AnswerFollowup answers a question scoped to a previously resolved focus.
	AnswerFollowup(ctx context.Context, subject session.SubjectRef, rctx Context, question string) (string, error)
}
