package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/errs"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/id"
)

func newTestSession() *Session {
	return &Session{
		Subject: SubjectRef{
			ID:   id.NewSubjectID(),
			Path: "/tmp/vqa-uploads/test.jpg",
			MIME: "image/jpeg",
			Kind: SubjectImage,
		},
		State: StateAwaitingClarification,
		Pending: &ClarificationRequest{
			Question: "Which one?",
			Options:  []string{"car", "shirt"},
		},
	}
}

func TestStoreCreateAssignsID(t *testing.T) {
	store := NewStore()

	sid := store.Create(newTestSession())

	assert.NotEmpty(t, sid)
	assert.Contains(t, sid.String(), "sess_")
	assert.Equal(t, 1, store.Len())

	got, err := store.Get(sid)
	require.NoError(t, err)
	assert.Equal(t, sid, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.LastActivity.IsZero())
}

func TestStoreGetUnknown(t *testing.T) {
	store := NewStore()

	_, err := store.Get("sess_does_not_exist")
	assert.True(t, errors.Is(err, errs.ErrSessionNotFound))
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store := NewStore()
	sid := store.Create(newTestSession())

	first, err := store.Get(sid)
	require.NoError(t, err)
	first.State = StateFocusReady
	first.Pending.Options[0] = "mutated"
	first.History = append(first.History, Turn{Kind: TurnFollowup})

	second, err := store.Get(sid)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingClarification, second.State)
	assert.Equal(t, "car", second.Pending.Options[0])
	assert.Empty(t, second.History)
}

func TestStoreUpdateCommitsAtomically(t *testing.T) {
	store := NewStore()
	sid := store.Create(newTestSession())

	t.Run("successful mutator commits everything", func(t *testing.T) {
		updated, err := store.Update(sid, func(s *Session) error {
			s.State = StateFocusReady
			s.Focus = &Focus{Option: "car"}
			s.Pending = nil
			s.AppendTurn(TurnSelection, "car", "red", time.Now())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, StateFocusReady, updated.State)
		assert.Len(t, updated.History, 1)

		got, err := store.Get(sid)
		require.NoError(t, err)
		assert.Equal(t, StateFocusReady, got.State)
		assert.Nil(t, got.Pending)
	})

	t.Run("failed mutator commits nothing", func(t *testing.T) {
		before, err := store.Get(sid)
		require.NoError(t, err)

		_, err = store.Update(sid, func(s *Session) error {
			s.AppendTurn(TurnFollowup, "is it new?", "", time.Now())
			s.State = StateAwaitingClarification
			return errors.New("mutator failed")
		})
		require.Error(t, err)

		after, err := store.Get(sid)
		require.NoError(t, err)
		assert.Equal(t, before.State, after.State)
		assert.Len(t, after.History, len(before.History))
		assert.Equal(t, before.LastActivity, after.LastActivity)
	})
}

func TestStoreUpdateUnknown(t *testing.T) {
	store := NewStore()

	_, err := store.Update("sess_missing", func(s *Session) error { return nil })
	assert.True(t, errors.Is(err, errs.ErrSessionNotFound))
}

func TestStoreDeleteIdempotent(t *testing.T) {
	store := NewStore()
	sid := store.Create(newTestSession())

	assert.True(t, store.Delete(sid))
	assert.False(t, store.Delete(sid))
	assert.False(t, store.Delete("sess_never_existed"))
	assert.Equal(t, 0, store.Len())

	_, err := store.Get(sid)
	assert.True(t, errors.Is(err, errs.ErrSessionNotFound))
}

func TestStoreDeleteIfIdle(t *testing.T) {
	store := NewStore()
	sid := store.Create(newTestSession())

	t.Run("active record survives", func(t *testing.T) {
		cutoff := time.Now().Add(-time.Hour)
		assert.False(t, store.DeleteIfIdle(sid, cutoff))
		assert.Equal(t, 1, store.Len())
	})

	t.Run("idle record is reaped with a tombstone", func(t *testing.T) {
		cutoff := time.Now().Add(time.Hour)
		assert.True(t, store.DeleteIfIdle(sid, cutoff))
		assert.Equal(t, 0, store.Len())
		assert.True(t, store.Expired(sid))

		_, err := store.Get(sid)
		assert.True(t, errors.Is(err, errs.ErrSessionExpired))
	})
}

func TestStoreTombstoneLimit(t *testing.T) {
	store := NewStore(WithTombstoneLimit(2))

	cutoff := time.Now().Add(time.Hour)
	var ids []id.SessionID
	for i := 0; i < 3; i++ {
		sid := store.Create(newTestSession())
		require.True(t, store.DeleteIfIdle(sid, cutoff))
		ids = append(ids, sid)
	}

	// Oldest tombstone evicted, collapses to not-found
	assert.False(t, store.Expired(ids[0]))
	assert.True(t, store.Expired(ids[1]))
	assert.True(t, store.Expired(ids[2]))

	_, err := store.Get(ids[0])
	assert.True(t, errors.Is(err, errs.ErrSessionNotFound))
}

func TestStoreRange(t *testing.T) {
	store := NewStore()
	for i := 0; i < 5; i++ {
		store.Create(newTestSession())
	}

	count := 0
	store.Range(func(s *Session) bool {
		count++
		return true
	})
	assert.Equal(t, 5, count)

	count = 0
	store.Range(func(s *Session) bool {
		count++
		return count < 2
	})
	assert.Equal(t, 2, count)
}

func TestStoreConcurrentUpdatesLinearized(t *testing.T) {
	store := NewStore()
	sid := store.Create(newTestSession())

	const writers = 16
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := store.Update(sid, func(s *Session) error {
					s.AppendTurn(TurnFollowup,
						fmt.Sprintf("q-%d-%d", w, i),
						fmt.Sprintf("a-%d-%d", w, i),
						time.Now())
					return nil
				})
				if err != nil {
					t.Errorf("update failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	got, err := store.Get(sid)
	require.NoError(t, err)
	assert.Len(t, got.History, writers*perWriter)
}

func TestStoreConcurrentDeleteAndUpdate(t *testing.T) {
	store := NewStore()

	for i := 0; i < 50; i++ {
		sid := store.Create(newTestSession())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Delete(sid)
		}()
		go func() {
			defer wg.Done()
			// Either commits before the delete or observes not-found;
			// never panics, never resurrects the record.
			_, _ = store.Update(sid, func(s *Session) error {
				s.Touch(time.Now())
				return nil
			})
		}()
		wg.Wait()

		_, err := store.Get(sid)
		assert.True(t, errors.Is(err, errs.ErrSessionNotFound))
	}
}
