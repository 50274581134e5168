package session

import (
	"sync"
	"time"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/errs"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/id"
)

// record pairs a session with its critical section. The deleted flag lets an
// operation that already holds the record pointer observe a concurrent
// deletion without touching the map.
type record struct {
	mu      sync.Mutex
	sess    *Session
	deleted bool
}

// Store is the keyed persistence layer for session records.
//
// Concurrency model: a RWMutex guards the map itself; each record carries its
// own lock serializing all operations on that id. No path holds the map lock
// while waiting on a record lock, so the two cannot deadlock, and no lock is
// ever held across a resolver call (the controller guarantees the latter).
type Store struct {
	mu         sync.RWMutex
	records    map[id.SessionID]*record
	tombstones map[id.SessionID]struct{}
	tombOrder  []id.SessionID
	tombLimit  int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTombstoneLimit bounds how many reaped ids are remembered for
// expired-vs-unknown reporting. Zero disables tombstones entirely.
func WithTombstoneLimit(n int) StoreOption {
	return func(s *Store) { s.tombLimit = n }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		records:    make(map[id.SessionID]*record),
		tombstones: make(map[id.SessionID]struct{}),
		tombLimit:  1024,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create assigns an id (if absent), stamps timestamps, and inserts the
// record. The returned id is the only handle to the session.
func (s *Store) Create(sess *Session) id.SessionID {
	if sess.ID == "" {
		sess.ID = id.NewSessionID()
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.Touch(now)

	rec := &record{sess: sess}

	s.mu.Lock()
	s.records[sess.ID] = rec
	s.mu.Unlock()

	return sess.ID
}

// Get returns a deep copy of the session. Reaped ids report SessionExpired;
// everything else unknown reports SessionNotFound.
func (s *Store) Get(sid id.SessionID) (*Session, error) {
	rec, err := s.lookup(sid)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, s.missing(sid)
	}
	return rec.sess.Clone(), nil
}

// Update runs mutate inside the record's critical section as an atomic
// read-modify-write: mutate receives a private copy, and only a nil error
// commits it. A failed mutator leaves the stored record untouched.
func (s *Store) Update(sid id.SessionID, mutate func(*Session) error) (*Session, error) {
	rec, err := s.lookup(sid)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, s.missing(sid)
	}

	draft := rec.sess.Clone()
	if err := mutate(draft); err != nil {
		return nil, err
	}

	rec.sess = draft
	return draft.Clone(), nil
}

// Delete removes the record. Reports whether a live record was removed;
// deleting an unknown or already-deleted id is not an error.
func (s *Store) Delete(sid id.SessionID) bool {
	return s.remove(sid, false, time.Time{})
}

// DeleteIfIdle removes the record only if its last activity is before
// cutoff, leaving a tombstone. Used by the reaper so a session touched
// between scan and delete survives the sweep.
func (s *Store) DeleteIfIdle(sid id.SessionID, cutoff time.Time) bool {
	return s.remove(sid, true, cutoff)
}

func (s *Store) remove(sid id.SessionID, onlyIdle bool, cutoff time.Time) bool {
	s.mu.RLock()
	rec, ok := s.records[sid]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	// Same per-record lock every operation takes: a record mid-update is
	// never yanked out from under its critical section.
	rec.mu.Lock()
	if rec.deleted || (onlyIdle && !rec.sess.LastActivity.Before(cutoff)) {
		rec.mu.Unlock()
		return false
	}
	rec.deleted = true
	rec.mu.Unlock()

	s.mu.Lock()
	if current, ok := s.records[sid]; ok && current == rec {
		delete(s.records, sid)
		if onlyIdle {
			s.bury(sid)
		}
	}
	s.mu.Unlock()
	return true
}

// Range calls fn with a copy of each live session until fn returns false.
// The snapshot is per-record consistent, not globally consistent.
func (s *Store) Range(fn func(*Session) bool) {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	for _, rec := range recs {
		rec.mu.Lock()
		var snap *Session
		if !rec.deleted {
			snap = rec.sess.Clone()
		}
		rec.mu.Unlock()

		if snap != nil && !fn(snap) {
			return
		}
	}
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Expired reports whether sid was removed by the reaper.
func (s *Store) Expired(sid id.SessionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tombstones[sid]
	return ok
}

func (s *Store) lookup(sid id.SessionID) (*record, error) {
	s.mu.RLock()
	rec, ok := s.records[sid]
	s.mu.RUnlock()
	if !ok {
		return nil, s.missing(sid)
	}
	return rec, nil
}

func (s *Store) missing(sid id.SessionID) error {
	if s.Expired(sid) {
		return errs.Newf(errs.KindSessionExpired, "session %s expired", sid)
	}
	return errs.Newf(errs.KindSessionNotFound, "session %s not found", sid)
}

// bury records a reaped id, evicting the oldest tombstone past the limit.
// Caller must hold s.mu.
func (s *Store) bury(sid id.SessionID) {
	if s.tombLimit <= 0 {
		return
	}
	if _, ok := s.tombstones[sid]; ok {
		return
	}
	s.tombstones[sid] = struct{}{}
	s.tombOrder = append(s.tombOrder, sid)
	for len(s.tombOrder) > s.tombLimit {
		oldest := s.tombOrder[0]
		s.tombOrder = s.tombOrder[1:]
		delete(s.tombstones, oldest)
	}
}
