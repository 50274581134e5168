package dialogue

import (
	"sync"
	"time"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/domain/session"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/id"
)

// TurnEvent notifies subscribers of a committed turn. Presentation layers
// (the WebSocket stream, a voice frontend) consume these; the state machine
// never depends on who is listening.
type TurnEvent struct {
	SessionID id.SessionID     `json:"session_id"`
	Kind      session.TurnKind `json:"kind"`
	Input     string           `json:"input"`
	Output    string           `json:"output"`
	Timestamp time.Time        `json:"timestamp"`
	Closed    bool             `json:"closed,omitempty"` // final event for the session
}

const subscriberBuffer = 16

// Events is an in-process fan-out of turn events keyed by session id.
type Events struct {
	mu   sync.RWMutex
	subs map[id.SessionID]map[chan TurnEvent]struct{}
}

// NewEvents creates an empty hub.
func NewEvents() *Events {
	return &Events{
		subs: make(map[id.SessionID]map[chan TurnEvent]struct{}),
	}
}

// Subscribe registers for a session's events. The returned cancel func must
// be called exactly once; the channel is closed on cancel or session end.
func (e *Events) Subscribe(sid id.SessionID) (<-chan TurnEvent, func()) {
	ch := make(chan TurnEvent, subscriberBuffer)

	e.mu.Lock()
	set, ok := e.subs[sid]
	if !ok {
		set = make(map[chan TurnEvent]struct{})
		e.subs[sid] = set
	}
	set[ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			if set, ok := e.subs[sid]; ok {
				if _, live := set[ch]; live {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(e.subs, sid)
				}
			}
			e.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the session. Slow
// subscribers drop events rather than block the state machine.
func (e *Events) Publish(ev TurnEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for ch := range e.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// CloseSession sends a terminal event and closes all subscriber channels.
func (e *Events) CloseSession(sid id.SessionID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	set, ok := e.subs[sid]
	if !ok {
		return
	}
	delete(e.subs, sid)

	final := TurnEvent{SessionID: sid, Closed: true, Timestamp: time.Now()}
	for ch := range set {
		select {
		case ch <- final:
		default:
		}
		close(ch)
	}
}
