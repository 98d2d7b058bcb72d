package feedback

import (
	"context"
	"testing"

	"github.com/ragcore/ragcore/pkg/ragerr"
	"github.com/ragcore/ragcore/pkg/ragtypes"
	storemock "github.com/ragcore/ragcore/pkg/store/mock"
)

func seedMemory(t *testing.T, st *storemock.Store) int64 {
	t.Helper()
	id, _, err := st.Insert(context.Background(), ragtypes.MemoryEntry{
		Text: "what is raft", Embedding: []float32{1, 0}, Answer: "raft is a consensus protocol",
	})
	if err != nil {
		t.Fatalf("seed memory: %v", err)
	}
	return id
}

func ptr[T any](v T) *T { return &v }

func TestManager_Submit_CreatesThenUpdatesInPlace(t *testing.T) {
	st := storemock.New()
	m := New(st)
	memID := seedMemory(t, st)

	fb, err := m.Submit(context.Background(), Submission{
		MemoryID: memID, Text: ptr("great answer"), Rating: ptr(5),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if fb.Text != "great answer" || fb.Rating != 5 {
		t.Errorf("Feedback = %+v", fb)
	}

	updated, err := m.Submit(context.Background(), Submission{
		MemoryID: memID, Favorite: ptr(true),
	})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if updated.ID != fb.ID {
		t.Errorf("expected the same feedback row to be reused, got id %d vs %d", updated.ID, fb.ID)
	}
	if !updated.Favorite {
		t.Error("expected Favorite=true")
	}
	if updated.Text != "great answer" {
		t.Errorf("expected prior Text to survive a favorite-only update, got %q", updated.Text)
	}
}

func TestManager_Submit_InvalidRating_BadInput(t *testing.T) {
	st := storemock.New()
	m := New(st)
	memID := seedMemory(t, st)

	_, err := m.Submit(context.Background(), Submission{MemoryID: memID, Rating: ptr(6)})
	if ragerr.KindOf(err) != ragerr.BadInput {
		t.Fatalf("KindOf(err) = %v, want BadInput (err=%v)", ragerr.KindOf(err), err)
	}
}

func TestManager_Submit_UnknownMemoryID_NotFound(t *testing.T) {
	st := storemock.New()
	m := New(st)

	_, err := m.Submit(context.Background(), Submission{MemoryID: 999, Favorite: ptr(true)})
	if ragerr.KindOf(err) != ragerr.NotFound {
		t.Fatalf("KindOf(err) = %v, want NotFound (err=%v)", ragerr.KindOf(err), err)
	}
}

func TestManager_Favorites_ReflectsCurrentFlag(t *testing.T) {
	st := storemock.New()
	m := New(st)
	memID := seedMemory(t, st)

	if _, err := m.Submit(context.Background(), Submission{MemoryID: memID, Favorite: ptr(true)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	favs, err := m.Favorites(context.Background())
	if err != nil {
		t.Fatalf("Favorites: %v", err)
	}
	if len(favs) != 1 || favs[0] != memID {
		t.Fatalf("Favorites = %v, want [%d]", favs, memID)
	}

	if _, err := m.Submit(context.Background(), Submission{MemoryID: memID, Favorite: ptr(false)}); err != nil {
		t.Fatalf("Submit (unfavorite): %v", err)
	}
	favs, err = m.Favorites(context.Background())
	if err != nil {
		t.Fatalf("Favorites: %v", err)
	}
	if len(favs) != 0 {
		t.Fatalf("Favorites = %v, want empty after unfavoriting", favs)
	}
}
