// Package enrollment holds the enrolled face embeddings per identity.
//
// A Snapshot is never mutated after construction. The Store publishes
// snapshots through an atomic pointer, so verification calls read without
// locks and always see one complete record set.
package enrollment

import (
	"sort"
	"sync/atomic"

	"github.com/example/faceid/internal/face"
)

// Snapshot is an immutable identity -> embeddings mapping.
type Snapshot struct {
	identities []string
	faces      map[string][]face.Embedding
}

// NewSnapshot deep-copies records into a snapshot. Identities with no
// embeddings are kept so they show up as enrolled users without face data.
func NewSnapshot(records map[string][]face.Embedding) *Snapshot {
	s := &Snapshot{faces: make(map[string][]face.Embedding, len(records))}
	for identity, embeddings := range records {
		copied := make([]face.Embedding, 0, len(embeddings))
		for _, e := range embeddings {
			copied = append(copied, e.Clone())
		}
		s.faces[identity] = copied
		s.identities = append(s.identities, identity)
	}
	sort.Strings(s.identities)
	return s
}

// Identities returns the identities in lexicographic order.
func (s *Snapshot) Identities() []string {
	return append([]string(nil), s.identities...)
}

// Embeddings returns the embeddings of identity in enrollment order, or nil.
func (s *Snapshot) Embeddings(identity string) []face.Embedding {
	return s.faces[identity]
}

// HasFaces reports whether identity has at least one embedding.
func (s *Snapshot) HasFaces(identity string) bool {
	return len(s.faces[identity]) > 0
}

// Count returns the number of identities, with or without embeddings.
func (s *Snapshot) Count() int {
	return len(s.identities)
}

// FaceCount returns the total number of embeddings across identities.
func (s *Snapshot) FaceCount() int {
	n := 0
	for _, e := range s.faces {
		n += len(e)
	}
	return n
}

// Store publishes the current snapshot.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a store holding initial, or an empty snapshot when nil.
func NewStore(initial *Snapshot) *Store {
	if initial == nil {
		initial = NewSnapshot(nil)
	}
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Current returns the snapshot in effect.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Replace swaps in next and returns the previous snapshot.
func (s *Store) Replace(next *Snapshot) *Snapshot {
	if next == nil {
		next = NewSnapshot(nil)
	}
	return s.current.Swap(next)
}
