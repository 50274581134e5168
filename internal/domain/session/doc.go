// Package session provides the durable record of a clarification dialogue
// and its lifecycle.
//
// A Session tracks one clarification-to-follow-up conversation about a single
// uploaded image or video. The package owns:
//   - Store: concurrency-safe keyed persistence with per-record critical
//     sections; records are mutated only through Update's atomic
//     read-modify-write
//   - Reaper: background sweep evicting sessions idle past a TTL
//   - The data model: Session, Turn, ClarificationRequest, Focus
//
// Lifecycle:
//  1. A clarification-mode analyze that hits ambiguity creates a record in
//     state awaiting_clarification with the pending clarification attached
//  2. A valid selection moves it to focus_ready and sets the focus
//  3. Follow-up turns append history while the state stays focus_ready
//  4. EndSession or the reaper removes the record; reaped ids are remembered
//     in a bounded tombstone set so callers see "expired" rather than
//     "not found"
//
// The store holds no business logic; legality of transitions is the dialogue
// controller's concern.
package session
