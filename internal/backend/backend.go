// Package backend defines the revision backend contract for the page store
// and provides the git implementation.
//
// A backend is an opaque graph of immutable snapshots. The store only
// relies on the surface below: read a blob at a revision, commit a set of
// path writes with one or two parents, and walk the commit graph.
package backend

import (
	"errors"
	"time"
)

// Errors for backend operations.
var (
	ErrNotFound = errors.New("backend: not found")
	ErrNoHead   = errors.New("backend: repository has no commits")
	ErrStorage  = errors.New("backend: storage failure")
)

// CommitInfo describes a single commit in the history graph.
type CommitInfo struct {
	ID      string
	Parents []string
	Author  string
	Message string
	Time    time.Time
	// Paths touched by this commit, relative to the repository root.
	// For a rename both names are listed.
	Paths []string
	// Renames maps new path -> old path for renames detected in this
	// commit.
	Renames map[string]string
}

// CommitRequest describes a commit to create. A nil byte slice in Writes
// records a tombstone: the path is removed from the tree.
type CommitRequest struct {
	// Parent is the first parent commit id; empty for a root commit.
	Parent string
	// Other is the optional second parent, set when committing the
	// resolution of concurrent edits.
	Other   string
	Writes  map[string][]byte
	Author  string
	Message string
	Time    time.Time
}

// LogOptions controls a history walk.
type LogOptions struct {
	// From is the commit to start from; empty means the current head.
	From string
	// Path restricts the walk to commits touching the path, following
	// renames backwards through history.
	Path string
	// Limit bounds the number of returned commits; 0 means no bound.
	Limit int
}

// Backend is the pluggable revision engine. Implementations must make
// reads safe for concurrent use; writes are serialized by the caller
// through Lock.
type Backend interface {
	// Head returns the current tip commit id, or ErrNoHead.
	Head() (string, error)

	// Commit atomically records the requested writes and returns the new
	// commit id. Either the commit fully lands or nothing changes.
	Commit(req CommitRequest) (string, error)

	// Blob returns the content of path at the given revision.
	Blob(rev, path string) ([]byte, error)

	// Contains reports whether path exists as a file at the revision.
	Contains(rev, path string) bool

	// IsTreeDir reports whether path is a directory at the revision.
	IsTreeDir(rev, path string) bool

	// Parents returns the parent commit ids of a revision.
	Parents(rev string) ([]string, error)

	// Info returns the metadata of a single commit, touched paths
	// included.
	Info(rev string) (CommitInfo, error)

	// Log walks the history newest first.
	Log(opts LogOptions) ([]CommitInfo, error)

	// DiffPaths returns the paths touched between two revisions,
	// additions, modifications and removals alike.
	DiffPaths(old, new string) ([]string, error)

	// Files lists every file path in the tree at the revision.
	Files(rev string) ([]string, error)

	// Lock acquires the backend's write lock for the duration of a
	// read-merge-commit sequence. The returned function releases it and
	// must be called on all exit paths.
	Lock() (unlock func())
}
