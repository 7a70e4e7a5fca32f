package encodings

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
)

func vec(fill float32) []float32 {
	v := make([]float32, 128)
	for i := range v {
		v[i] = fill
	}
	return v
}

func TestStore_UpsertKeepsIDOrder(t *testing.T) {
	s := NewStore(nil)
	s.Upsert(3, "c", vec(3))
	s.Upsert(1, "a", vec(1))
	s.Upsert(2, "b", vec(2))

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	for i, want := range []int64{1, 2, 3} {
		if snap[i].ID != want {
			t.Errorf("position %d: expected id %d, got %d", i, want, snap[i].ID)
		}
	}
}

func TestStore_ReEnrollReplaces(t *testing.T) {
	s := NewStore(nil)
	s.Upsert(1, "A", vec(0.1))
	before := s.Snapshot()

	s.Upsert(1, "A", vec(0.9))
	after := s.Snapshot()

	if len(after) != 1 {
		t.Fatalf("expected exactly one entry for A, got %d", len(after))
	}
	if after[0].Vector[0] != 0.9 {
		t.Errorf("expected new vector, got %v", after[0].Vector[0])
	}
	// Earlier snapshots are untouched.
	if before[0].Vector[0] != 0.1 {
		t.Errorf("old snapshot was mutated: %v", before[0].Vector[0])
	}
}

func TestStore_UpsertCopiesVector(t *testing.T) {
	s := NewStore(nil)
	v := vec(0.5)
	s.Upsert(1, "A", v)
	v[0] = 99

	if got := s.Snapshot()[0].Vector[0]; got != 0.5 {
		t.Errorf("store shares caller's slice, got %v", got)
	}
}

func TestStore_RemoveAndRename(t *testing.T) {
	s := NewStore(nil)
	s.Upsert(1, "A", vec(1))
	s.Upsert(2, "B", vec(2))

	s.Rename(2, "Bee")
	s.Remove(1)
	s.Remove(42)

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].ID != 2 || snap[0].Name != "Bee" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestStore_Load(t *testing.T) {
	repo := mock.NewMockIdentityRepository()
	repo.AddIdentity(database.Identity{ID: 5, Name: "E", Encoding: vec(5)})
	repo.AddIdentity(database.Identity{ID: 2, Name: "B", Encoding: vec(2)})
	repo.AddIdentity(database.Identity{ID: 3, Name: "not enrolled"})

	s := NewStore(repo)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].ID != 2 || snap[1].ID != 5 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestStore_LoadError(t *testing.T) {
	repo := mock.NewMockIdentityRepository()
	repo.ListEncodingsError = errors.New("db down")
	s := NewStore(repo)
	s.Upsert(1, "A", vec(1))

	if err := s.Load(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if s.Len() != 1 {
		t.Error("failed load must keep the previous snapshot")
	}

	if err := NewStore(nil).Load(context.Background()); err == nil {
		t.Error("expected error for store without source")
	}
}

// Readers running alongside writers must only ever see whole vectors.
func TestStore_ConcurrentReadersSeeWholeVectors(t *testing.T) {
	s := NewStore(nil)
	s.Upsert(1, "A", vec(0))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 2000; i++ {
			s.Upsert(1, "A", vec(float32(i)))
			if i%10 == 0 {
				s.Upsert(int64(i), "other", vec(float32(i)))
				s.Remove(int64(i))
			}
		}
		close(stop)
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, c := range s.Snapshot() {
					first := c.Vector[0]
					for _, x := range c.Vector {
						if x != first {
							t.Errorf("torn vector for %d: %v vs %v", c.ID, first, x)
							return
						}
					}
				}
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Vector[0] != 2000 {
		t.Errorf("unexpected final snapshot %+v", snap)
	}
}
