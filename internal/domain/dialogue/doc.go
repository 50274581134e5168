// Package dialogue implements the multi-turn clarification state machine.
//
// The Controller owns the lifecycle Analyze -> [Clarify] -> Chat* ->
// EndSession:
//   - Analyze consults the resolver; a direct answer short-circuits with no
//     record created, while an ambiguity verdict in clarify mode creates a
//     session holding the pending clarification
//   - ResolveSelection validates the chosen option against the recorded
//     clarification, derives the focus, and unlocks follow-ups
//   - Followup answers questions scoped to the resolved focus with a bounded
//     history window
//   - EndSession deletes the record, idempotently
//
// Mode is a request-scoped input to Analyze only; it is never stored. A
// session's later life is governed solely by its state. At most one
// clarification round happens per session: if a follow-up surfaces fresh
// ambiguity the resolver reports it as a failure rather than a second round.
//
// Resolver calls always happen outside any record lock; the transition
// commits afterwards through the store's atomic Update, so a failed call
// leaves the session exactly as it was and the caller may retry.
package dialogue
