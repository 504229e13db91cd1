package store

import (
	"errors"

	"github.com/google/uuid"

	"github.com/sa/pagestore/internal/backend"
)

// Session gives one caller a stable view of the repository: the head is
// resolved once and every read through the session is pinned to it, so a
// sequence of reads observes a single snapshot even while other callers
// commit. A session is owned by one goroutine and is not safe for
// concurrent use; create one session per caller.
type Session struct {
	id    uuid.UUID
	store *Store

	head       string
	generation uint64
	pinned     bool
}

// NewSession creates a session over the store. The head is resolved
// lazily on first use.
func (s *Store) NewSession() *Session {
	return &Session{id: uuid.New(), store: s}
}

// ID returns the session's unique identifier.
func (se *Session) ID() uuid.UUID { return se.id }

// Head returns the session's pinned head revision, resolving and pinning
// it on first use. ErrNotFound is returned for an empty repository.
func (se *Session) Head() (string, error) {
	if se.pinned {
		return se.head, nil
	}
	head, err := se.store.backend.Head()
	if err != nil {
		if errors.Is(err, backend.ErrNoHead) {
			return "", ErrNotFound
		}
		return "", err
	}
	se.head = head
	se.generation = se.store.generation.Load()
	se.pinned = true
	return se.head, nil
}

// Read returns the page as of the session's pinned head.
func (se *Session) Read(title string) (PageRevision, error) {
	head, err := se.Head()
	if err != nil {
		return PageRevision{}, err
	}
	return se.store.readAt(head, title)
}

// Contains reports whether the page exists at the session's pinned head.
func (se *Session) Contains(title string) bool {
	head, err := se.Head()
	if err != nil {
		return false
	}
	p, err := se.store.codec.Encode(title)
	if err != nil {
		return false
	}
	return se.store.backend.Contains(head, p)
}

// Stale reports whether the store has committed writes since the session
// pinned its head.
func (se *Session) Stale() bool {
	return se.pinned && se.generation != se.store.generation.Load()
}

// Refresh re-pins the session to the current head.
func (se *Session) Refresh() error {
	se.Invalidate()
	_, err := se.Head()
	return err
}

// Invalidate drops the pinned head; the next use resolves it again.
func (se *Session) Invalidate() {
	se.pinned = false
	se.head = ""
}
