// Package encodings holds the in-memory set of enrolled reference vectors used for matching.
package encodings

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Snapshot is an immutable, id-ordered view of the store.
// Callers must not modify the returned candidates or their vectors.
type Snapshot = []facematch.Candidate

// Store is a copy-on-write set of reference vectors. Readers load the current
// snapshot without locking; writers build a new snapshot and swap it in.
type Store struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Snapshot]
	source  database.IdentityReader
}

// NewStore creates an empty store. source may be nil when the store is filled by hand.
func NewStore(source database.IdentityReader) *Store {
	s := &Store{source: source}
	empty := Snapshot{}
	s.current.Store(&empty)
	return s
}

// Snapshot returns the current view. It never blocks on writers.
func (s *Store) Snapshot() Snapshot {
	return *s.current.Load()
}

// Len returns the number of vectors in the current snapshot.
func (s *Store) Len() int {
	return len(s.Snapshot())
}

// Upsert sets the vector of an identity, replacing any previous one.
func (s *Store) Upsert(id int64, name string, vector []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.Snapshot()
	c := facematch.Candidate{ID: id, Name: name, Vector: slices.Clone(vector)}

	i, found := sort.Find(len(old), func(i int) int {
		switch {
		case id < old[i].ID:
			return -1
		case id > old[i].ID:
			return 1
		}
		return 0
	})

	var next Snapshot
	if found {
		next = slices.Clone(old)
		next[i] = c
	} else {
		next = make(Snapshot, 0, len(old)+1)
		next = append(next, old[:i]...)
		next = append(next, c)
		next = append(next, old[i:]...)
	}
	s.current.Store(&next)
}

// Rename changes the display name of an enrolled identity. Unknown ids are ignored.
func (s *Store) Rename(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.Snapshot()
	for i := range old {
		if old[i].ID == id {
			next := slices.Clone(old)
			next[i].Name = name
			s.current.Store(&next)
			return
		}
	}
}

// Remove drops the vector of an identity.
func (s *Store) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.Snapshot()
	next := slices.DeleteFunc(slices.Clone(old), func(c facematch.Candidate) bool {
		return c.ID == id
	})
	if len(next) != len(old) {
		s.current.Store(&next)
	}
}

// Replace swaps the whole set.
func (s *Store) Replace(records []database.EncodingRecord) {
	next := make(Snapshot, 0, len(records))
	for _, r := range records {
		next = append(next, facematch.Candidate{
			ID:     r.IdentityID,
			Name:   r.Name,
			Vector: slices.Clone(r.Encoding),
		})
	}
	sort.SliceStable(next, func(i, j int) bool { return next[i].ID < next[j].ID })

	s.mu.Lock()
	s.current.Store(&next)
	s.mu.Unlock()
}

// Load fills the store from the identity repository.
func (s *Store) Load(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("encoding store has no source")
	}
	records, err := s.source.ListEncodings(ctx)
	if err != nil {
		return fmt.Errorf("loading encodings: %w", err)
	}
	s.Replace(records)
	return nil
}
