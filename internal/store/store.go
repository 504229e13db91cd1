// Package store orchestrates the page-level view of the repository: it
// maps titles to repository paths, resolves save parents, runs the
// three-way merge for concurrent edits and records the outcome through
// the revision backend.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sa/pagestore/internal/backend"
	"github.com/sa/pagestore/internal/config"
	"github.com/sa/pagestore/internal/merge"
	"github.com/sa/pagestore/internal/pathenc"
)

// Errors for store operations.
var (
	ErrNotFound  = errors.New("store: page not found")
	ErrForbidden = errors.New("store: operation forbidden")
)

// RevNone is the page revision number of a page that does not exist yet.
// Passing it as the save parent means "I based my edit on nothing".
const RevNone = -1

// Defaults applied to commits with missing attribution, and the comment
// recorded when a concurrent edit could not be merged.
const (
	defaultAuthor      = "anon"
	defaultComment     = "comment"
	failedMergeComment = "failed merge of edit conflict"
)

// PageRevision is one revision of a page. Data is nil for a tombstone,
// the revision in which the page was deleted.
type PageRevision struct {
	Title   string
	Data    []byte
	Rev     int
	Node    string
	Date    time.Time
	Author  string
	Comment string
}

// Deleted reports whether this revision is a deletion tombstone.
func (p PageRevision) Deleted() bool { return p.Data == nil }

// Store is the page-level façade over a revision backend. All methods are
// safe for concurrent use.
type Store struct {
	cfg     *config.Config
	backend backend.Backend
	codec   pathenc.Codec
	subdir  *pathenc.Subdir

	// generation counts committed writes, so sessions can detect that
	// their pinned head went stale.
	generation atomic.Uint64
}

// New creates a Store over the given backend using the configured page
// layout.
func New(cfg *config.Config, b backend.Backend) *Store {
	s := &Store{cfg: cfg, backend: b}
	if cfg.Subdirectories {
		s.subdir = pathenc.NewSubdir(cfg.PagesPrefix, cfg.PageExtension, cfg.IndexName, headDirs{b})
		s.codec = s.subdir
	} else {
		s.codec = pathenc.NewFlat(cfg.PagesPrefix, cfg.PageExtension)
	}
	return s
}

// headDirs answers directory queries against the current head tree.
type headDirs struct {
	b backend.Backend
}

func (h headDirs) IsDir(repoPath string) bool {
	head, err := h.b.Head()
	if err != nil {
		return false
	}
	return h.b.IsTreeDir(head, repoPath)
}

// Codec exposes the title-to-path mapping in use, for callers that need
// to reason about raw repository paths.
func (s *Store) Codec() pathenc.Codec { return s.codec }

// Contains reports whether the page exists at the current head.
func (s *Store) Contains(title string) bool {
	head, err := s.backend.Head()
	if err != nil {
		return false
	}
	p, err := s.codec.Encode(title)
	if err != nil {
		return false
	}
	return s.backend.Contains(head, p)
}

// Read returns the page content and metadata at the current head.
func (s *Store) Read(title string) (PageRevision, error) {
	head, err := s.backend.Head()
	if err != nil {
		if errors.Is(err, backend.ErrNoHead) {
			return PageRevision{}, fmt.Errorf("%w: %q", ErrNotFound, title)
		}
		return PageRevision{}, err
	}
	return s.readAt(head, title)
}

// readAt reads the page as of the given backend revision.
func (s *Store) readAt(node, title string) (PageRevision, error) {
	p, err := s.codec.Encode(title)
	if err != nil {
		return PageRevision{}, err
	}
	if !s.backend.Contains(node, p) {
		return PageRevision{}, fmt.Errorf("%w: %q", ErrNotFound, title)
	}
	data, err := s.backend.Blob(node, p)
	if err != nil {
		return PageRevision{}, err
	}
	revs, err := s.pathCommits(node, p)
	if err != nil {
		return PageRevision{}, err
	}
	if len(revs) == 0 {
		return PageRevision{}, fmt.Errorf("%w: %q", ErrNotFound, title)
	}
	last := revs[len(revs)-1]
	return PageRevision{
		Title:   title,
		Data:    data,
		Rev:     len(revs) - 1,
		Node:    last.info.ID,
		Date:    last.info.Time,
		Author:  last.info.Author,
		Comment: last.info.Message,
	}, nil
}

// ReadAt returns the page at a given page revision number. Tombstone
// revisions are returned with nil Data.
func (s *Store) ReadAt(title string, rev int) (PageRevision, error) {
	head, err := s.backend.Head()
	if err != nil {
		if errors.Is(err, backend.ErrNoHead) {
			return PageRevision{}, fmt.Errorf("%w: %q", ErrNotFound, title)
		}
		return PageRevision{}, err
	}
	p, err := s.codec.Encode(title)
	if err != nil {
		return PageRevision{}, err
	}
	if findPathTip(s.backend, head, p) == "" {
		return PageRevision{}, fmt.Errorf("%w: %q", ErrNotFound, title)
	}
	revs, err := s.pathCommits(head, p)
	if err != nil {
		return PageRevision{}, err
	}
	if rev < 0 || rev >= len(revs) {
		return PageRevision{}, fmt.Errorf("%w: %q has no revision %d", ErrNotFound, title, rev)
	}
	e := revs[rev]
	pr := PageRevision{
		Title:   title,
		Rev:     rev,
		Node:    e.info.ID,
		Date:    e.info.Time,
		Author:  e.info.Author,
		Comment: e.info.Message,
	}
	if s.backend.Contains(e.info.ID, e.name) {
		data, err := s.backend.Blob(e.info.ID, e.name)
		if err != nil {
			return PageRevision{}, err
		}
		pr.Data = data
	}
	return pr, nil
}

// Save records a new revision of the page, treating the current head as
// the parent of the edit.
func (s *Store) Save(title string, data []byte, author, comment string) (PageRevision, error) {
	return s.save(title, data, author, comment, nil)
}

// SaveAt records a new revision of an edit based on the given page
// revision number. When the page has moved on since that revision the
// incoming text is three-way merged with the current head; an
// unmergeable edit is committed as-is with the conflict noted in the
// comment.
func (s *Store) SaveAt(title string, data []byte, author, comment string, parent int) (PageRevision, error) {
	return s.save(title, data, author, comment, &parent)
}

// Delete records a deletion tombstone for the page. Deleting a page that
// does not exist is forbidden.
func (s *Store) Delete(title, author, comment string) (PageRevision, error) {
	return s.save(title, nil, author, comment, nil)
}

func (s *Store) save(title string, data []byte, author, comment string, parent *int) (PageRevision, error) {
	if s.cfg.ReadOnly {
		return PageRevision{}, fmt.Errorf("%w: store is read-only", ErrForbidden)
	}
	if author == "" {
		author = defaultAuthor
	}
	if comment == "" {
		comment = defaultComment
	}
	if data != nil && s.cfg.UnixEOL {
		data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	}

	unlock := s.backend.Lock()
	defer unlock()

	head, err := s.backend.Head()
	if err != nil && !errors.Is(err, backend.ErrNoHead) {
		return PageRevision{}, err
	}

	p, err := s.codec.Encode(title)
	if err != nil {
		return PageRevision{}, err
	}

	if data == nil && (head == "" || !s.backend.Contains(head, p)) {
		return PageRevision{}, fmt.Errorf("%w: cannot delete %q, it does not exist", ErrForbidden, title)
	}

	parentNode, otherNode, err := s.resolveParents(head, p, parent)
	if err != nil {
		return PageRevision{}, err
	}

	if otherNode != "" && data != nil {
		data, comment, err = s.mergeWithHead(head, p, parentNode, data, comment)
		if err != nil {
			return PageRevision{}, err
		}
	}

	writes := map[string][]byte{p: data}
	if data != nil {
		if err := s.relocateCollidingFile(head, p, writes); err != nil {
			return PageRevision{}, err
		}
	}

	req := backend.CommitRequest{
		Parent:  parentNode,
		Other:   otherNode,
		Writes:  writes,
		Author:  author,
		Message: comment,
		Time:    time.Now(),
	}
	if req.Parent == "" {
		req.Parent, req.Other = req.Other, ""
	}
	node, err := s.backend.Commit(req)
	if err != nil {
		return PageRevision{}, err
	}
	s.generation.Add(1)

	revs, err := s.pathCommits(node, p)
	if err != nil {
		return PageRevision{}, err
	}
	slog.Info("saved page", "title", title, "rev", len(revs)-1, "node", shortNode(node))
	return PageRevision{
		Title:   title,
		Data:    data,
		Rev:     len(revs) - 1,
		Node:    node,
		Date:    req.Time,
		Author:  author,
		Comment: comment,
	}, nil
}

// resolveParents maps the caller's claimed base revision to commit
// parents. When the caller edited the latest revision (or gave none) the
// commit is a plain child of head. When the base is stale the commit gets
// two parents, the stale base and the current head, and the caller's text
// must be merged with head's.
func (s *Store) resolveParents(head, p string, parent *int) (parentNode, otherNode string, err error) {
	if parent == nil || head == "" {
		return head, "", nil
	}
	revs, err := s.pathCommits(head, p)
	if err != nil {
		return "", "", err
	}
	last := len(revs) - 1
	switch {
	case *parent > last:
		return "", "", fmt.Errorf("%w: no parent revision %d", ErrNotFound, *parent)
	case *parent == last:
		// Also covers a fresh page with parent == RevNone.
		return head, "", nil
	case *parent == RevNone:
		// The caller based the edit on nothing, but the page exists now.
		return "", head, nil
	default:
		return revs[*parent].info.ID, head, nil
	}
}

// mergeWithHead reconciles the caller's text with the content the page
// grew at head since the caller's base. Conflicting regions are kept with
// markers; binary content is left as the caller sent it, with the failure
// recorded in the comment.
func (s *Store) mergeWithHead(head, p, parentNode string, data []byte, comment string) ([]byte, string, error) {
	var base []byte
	if parentNode != "" {
		name, err := s.pathNameAt(head, p, parentNode)
		if err != nil {
			return nil, "", err
		}
		base, err = s.backend.Blob(parentNode, name)
		if err != nil {
			return nil, "", err
		}
	}
	theirs, err := s.backend.Blob(head, p)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			// Deleted at head; the incoming text wins unchanged.
			return data, comment, nil
		}
		return nil, "", err
	}

	res := merge.Merge(base, theirs, data)
	switch res.Outcome {
	case merge.OutcomeBinary:
		slog.Warn("binary content, skipping merge", "path", p)
		return data, failedMergeComment, nil
	case merge.OutcomeConflict:
		slog.Info("merged with conflicts", "path", p)
		return res.Data, comment, nil
	default:
		return res.Data, comment, nil
	}
}

// pathNameAt returns the name the path had at the given ancestor commit,
// following renames backwards from head.
func (s *Store) pathNameAt(head, p, node string) (string, error) {
	revs, err := s.pathCommits(head, p)
	if err != nil {
		return "", err
	}
	for _, r := range revs {
		if r.info.ID == node {
			return r.name, nil
		}
	}
	return p, nil
}

// relocateCollidingFile handles a save whose path needs a directory where
// a file already sits. The nearest such ancestor file is moved to the
// directory's index file in the same commit, so the old page keeps its
// content and its history follows the rename.
func (s *Store) relocateCollidingFile(head string, p string, writes map[string][]byte) error {
	if s.subdir == nil || head == "" {
		return nil
	}
	prefix := strings.Trim(s.cfg.PagesPrefix, "/")
	for dir := path.Dir(p); dir != "." && dir != "/" && dir != prefix; dir = path.Dir(dir) {
		if !s.backend.Contains(head, dir) {
			continue
		}
		content, err := s.backend.Blob(head, dir)
		if err != nil {
			return err
		}
		relocated := dir + "/" + s.subdir.IndexName()
		if title, err := s.codec.Decode(dir); err == nil {
			if s.cfg.PageExtension != "" && pathenc.TitleMime(title) == pathenc.WikiMime {
				relocated += s.cfg.PageExtension
			}
		}
		writes[dir] = nil
		writes[relocated] = content
		slog.Info("relocated page to index file", "from", dir, "to", relocated)
		return nil
	}
	return nil
}

func shortNode(node string) string {
	if len(node) > 7 {
		return node[:7]
	}
	return node
}
