package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/errs"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/id"
)

// State is the lifecycle state of a live session record.
//
// There is no stored "init" state: before a record exists there is nothing to
// persist, and "closed" means the record has been deleted.
type State string

const (
	StateAwaitingClarification State = "awaiting_clarification"
	StateFocusReady            State = "focus_ready"
)

// SubjectKind distinguishes image and video subjects.
type SubjectKind string

const (
	SubjectImage SubjectKind = "image"
	SubjectVideo SubjectKind = "video"
)

// SubjectRef references an uploaded image or video. The session holds the
// reference only; the media layer owns the bytes.
type SubjectRef struct {
	ID        id.SubjectID `json:"id"`
	Path      string       `json:"path"`
	MIME      string       `json:"mime"`
	Kind      SubjectKind  `json:"kind"`
	Signature string       `json:"signature,omitempty"` // SHA-1 of the content
}

// ClarificationRequest is a disambiguating question with a finite option set.
// Immutable once attached to a session.
type ClarificationRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Validate checks the structural invariants: at least two options, each
// non-empty, pairwise distinct.
func (c *ClarificationRequest) Validate() error {
	if c == nil || strings.TrimSpace(c.Question) == "" {
		return errs.New(errs.KindUpstream, "clarification is missing a question")
	}
	if len(c.Options) < 2 {
		return errs.New(errs.KindUpstream, "clarification needs at least two options")
	}
	seen := make(map[string]bool, len(c.Options))
	for _, opt := range c.Options {
		if strings.TrimSpace(opt) == "" {
			return errs.New(errs.KindUpstream, "clarification contains an empty option")
		}
		if seen[opt] {
			return errs.Newf(errs.KindUpstream, "clarification option %q is duplicated", opt)
		}
		seen[opt] = true
	}
	return nil
}

// HasOption reports whether opt is among the offered options.
func (c *ClarificationRequest) HasOption(opt string) bool {
	if c == nil {
		return false
	}
	for _, o := range c.Options {
		if o == opt {
			return true
		}
	}
	return false
}

func (c *ClarificationRequest) clone() *ClarificationRequest {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Options = append([]string(nil), c.Options...)
	return &cp
}

// Focus is the resolved subject-of-conversation derived from a clarification
// selection. Payload is opaque resolver context carried back on follow-ups.
type Focus struct {
	Option  string          `json:"option"`
	Label   string          `json:"label,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (f *Focus) clone() *Focus {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Payload = append(json.RawMessage(nil), f.Payload...)
	return &cp
}

// TurnKind classifies a recorded exchange.
type TurnKind string

const (
	TurnInitial   TurnKind = "initial"
	TurnSelection TurnKind = "selection"
	TurnFollowup  TurnKind = "followup"
)

// Turn records one question/answer exchange. Turns are append-only; nothing
// edits or removes one short of session deletion.
type Turn struct {
	Kind      TurnKind  `json:"kind"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the durable record of one clarification dialogue.
//
// Invariants maintained by the dialogue controller:
//   - Pending is non-nil iff State is awaiting_clarification
//   - Focus is non-nil iff the session has reached focus_ready
//   - History only grows; LastActivity never decreases
type Session struct {
	ID           id.SessionID          `json:"id"`
	Subject      SubjectRef            `json:"subject"`
	State        State                 `json:"state"`
	Pending      *ClarificationRequest `json:"pending_clarification,omitempty"`
	Focus        *Focus                `json:"focus,omitempty"`
	History      []Turn                `json:"history"`
	CreatedAt    time.Time             `json:"created_at"`
	LastActivity time.Time             `json:"last_activity"`
}

// AppendTurn records a turn and refreshes LastActivity.
func (s *Session) AppendTurn(kind TurnKind, input, output string, now time.Time) {
	s.History = append(s.History, Turn{
		Kind:      kind,
		Input:     input,
		Output:    output,
		Timestamp: now,
	})
	s.Touch(now)
}

// Touch refreshes LastActivity. It never moves the timestamp backwards.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// RecentHistory returns up to n most recent turns, oldest first.
func (s *Session) RecentHistory(n int) []Turn {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	start := len(s.History) - n
	if start < 0 {
		start = 0
	}
	return append([]Turn(nil), s.History[start:]...)
}

// Clone returns a deep copy safe to read outside the record lock.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Pending = s.Pending.clone()
	cp.Focus = s.Focus.clone()
	cp.History = append([]Turn(nil), s.History...)
	return &cp
}
