// Package feedback implements Feedback CRUD (C3's dialog-store
// surface, spec.md §3/§6): rating, free-text, and favorite flags bound
// to a MemoryEntry, at most one row per memory entry, with a
// favorites projection.
package feedback

import (
	"context"
	"fmt"

	"github.com/ragcore/ragcore/pkg/ragerr"
	"github.com/ragcore/ragcore/pkg/ragtypes"
	"github.com/ragcore/ragcore/pkg/store"
)

// Submission is the mutable content of a feedback post. Pointer fields
// distinguish "omitted" from "explicitly cleared/false" the same way
// internal/qa.Request distinguishes an omitted bool from false.
type Submission struct {
	MemoryID int64
	Text     *string
	Rating   *int
	Favorite *bool
}

// Manager implements feedback CRUD against a store.DialogStore +
// store.MemoryStore.
type Manager struct {
	store  store.DialogStore
	memory store.MemoryStore
}

// New creates a Manager backed by st.
func New(st store.Store) *Manager {
	return &Manager{store: st, memory: st}
}

// Submit creates or updates the feedback row bound to sub.MemoryID: a
// first submission for a memory id creates the row, a later one
// updates the existing row's text/rating/favorite fields in place
// (spec.md §3: "at most one Feedback per MemoryEntry"). Returns
// ragerr.BadInput if Rating is present and outside 1..5, ragerr.NotFound
// if the memory entry does not exist.
func (m *Manager) Submit(ctx context.Context, sub Submission) (ragtypes.Feedback, error) {
	if sub.Rating != nil && (*sub.Rating < 1 || *sub.Rating > 5) {
		return ragtypes.Feedback{}, ragerr.New(ragerr.BadInput, "rating must be between 1 and 5")
	}

	if _, err := m.memory.Get(ctx, sub.MemoryID); err != nil {
		return ragtypes.Feedback{}, wrapStore("fetch memory entry", err)
	}

	existing, err := m.store.GetFeedbackByMemoryID(ctx, sub.MemoryID)
	if err != nil {
		return ragtypes.Feedback{}, wrapStore("lookup existing feedback", err)
	}

	fb := ragtypes.Feedback{MemoryID: sub.MemoryID}
	if existing != nil {
		fb = *existing
	}
	if sub.Text != nil {
		fb.Text = *sub.Text
	}
	if sub.Rating != nil {
		fb.Rating = *sub.Rating
	}
	if sub.Favorite != nil {
		fb.Favorite = *sub.Favorite
	}

	if existing == nil {
		id, err := m.store.CreateFeedback(ctx, fb)
		if err != nil {
			return ragtypes.Feedback{}, wrapStore("create feedback", err)
		}
		fb.ID = id
		return fb, nil
	}

	if err := m.store.UpdateFeedback(ctx, fb); err != nil {
		return ragtypes.Feedback{}, wrapStore("update feedback", err)
	}
	return fb, nil
}

// Favorites returns the memory ids of every feedback row currently
// marked as a favorite (spec.md §6 GET /favorites).
func (m *Manager) Favorites(ctx context.Context) ([]int64, error) {
	favs, err := m.store.ListFavorites(ctx)
	if err != nil {
		return nil, wrapStore("list favorites", err)
	}
	ids := make([]int64, len(favs))
	for i, fb := range favs {
		ids[i] = fb.MemoryID
	}
	return ids, nil
}

// Get retrieves a feedback row by its own id.
func (m *Manager) Get(ctx context.Context, id int64) (ragtypes.Feedback, error) {
	fb, err := m.store.GetFeedback(ctx, id)
	if err != nil {
		return ragtypes.Feedback{}, wrapStore("fetch feedback", err)
	}
	return fb, nil
}

// wrapStore tags err as ragerr.Store unless it already carries a
// taxonomy Kind (e.g. NotFound/Conflict returned directly by the store
// layer), in which case that Kind is preserved by wrapping
// transparently instead of being overwritten.
func wrapStore(msg string, err error) error {
	if err == nil {
		return nil
	}
	if ragerr.KindOf(err) != ragerr.Internal {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return ragerr.Wrap(ragerr.Store, msg, err)
}
