package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sa/pagestore/internal/backend"
)

// pathRev is one commit in a path's private revision sequence, together
// with the name the path had in that commit.
type pathRev struct {
	name string
	info backend.CommitInfo
}

// pathCommits returns the commits touching the path, oldest first,
// following renames backwards through history. The index into the result
// is the page revision number.
func (s *Store) pathCommits(from, p string) ([]pathRev, error) {
	infos, err := s.backend.Log(backend.LogOptions{From: from, Path: p})
	if err != nil {
		if errors.Is(err, backend.ErrNoHead) {
			return nil, nil
		}
		return nil, err
	}
	// The log is newest first; track the path's name while walking back,
	// then reverse into revision-number order.
	revs := make([]pathRev, len(infos))
	name := p
	for i, info := range infos {
		revs[len(infos)-1-i] = pathRev{name: name, info: info}
		if old, ok := info.Renames[name]; ok {
			name = old
		}
	}
	return revs, nil
}

// findPathTip walks the commit graph from the given revision and returns
// the first revision encountered whose tree contains the path, or empty
// when no reachable revision does. The walk is an explicit stack with a
// visited set, so merge-heavy histories cannot recurse deeply or loop.
func findPathTip(b backend.Backend, from, p string) string {
	if from == "" {
		return ""
	}
	visited := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[node] {
			continue
		}
		visited[node] = true
		if b.Contains(node, p) {
			return node
		}
		parents, err := b.Parents(node)
		if err != nil {
			continue
		}
		stack = append(stack, parents...)
	}
	return ""
}

// HeadRevision returns the backend revision of the current head.
func (s *Store) HeadRevision() (string, error) {
	return s.backend.Head()
}

// PageMeta returns the metadata of the page's most recent revision
// without reading its content. It works for deleted pages too, returning
// the tombstone's metadata.
func (s *Store) PageMeta(title string) (PageRevision, error) {
	history, err := s.PageHistory(title)
	if err != nil {
		return PageRevision{}, err
	}
	if len(history) == 0 {
		return PageRevision{}, fmt.Errorf("%w: %q", ErrNotFound, title)
	}
	return history[0], nil
}

// PageHistory returns all revisions of the page, newest first. Content is
// not loaded; tombstone entries are marked deleted.
func (s *Store) PageHistory(title string) ([]PageRevision, error) {
	head, err := s.backend.Head()
	if err != nil {
		if errors.Is(err, backend.ErrNoHead) {
			return nil, nil
		}
		return nil, err
	}
	p, err := s.codec.Encode(title)
	if err != nil {
		return nil, err
	}
	if findPathTip(s.backend, head, p) == "" {
		return nil, nil
	}
	revs, err := s.pathCommits(head, p)
	if err != nil {
		return nil, err
	}
	history := make([]PageRevision, 0, len(revs))
	for i := len(revs) - 1; i >= 0; i-- {
		e := revs[i]
		pr := PageRevision{
			Title:   title,
			Rev:     i,
			Node:    e.info.ID,
			Date:    e.info.Time,
			Author:  e.info.Author,
			Comment: e.info.Message,
		}
		if s.backend.Contains(e.info.ID, e.name) {
			// Mark existence without loading content; Data stays nil
			// only for tombstones.
			pr.Data = []byte{}
		}
		history = append(history, pr)
	}
	return history, nil
}

// WholeHistory returns every page change in the repository, newest first.
// One commit touching several pages yields several entries. A positive
// limit bounds the number of commits walked.
func (s *Store) WholeHistory(limit int) ([]PageRevision, error) {
	infos, err := s.backend.Log(backend.LogOptions{Limit: limit})
	if err != nil {
		if errors.Is(err, backend.ErrNoHead) {
			return nil, nil
		}
		return nil, err
	}
	var history []PageRevision
	for _, info := range infos {
		for _, p := range info.Paths {
			title, err := s.codec.Decode(p)
			if err != nil {
				continue
			}
			history = append(history, PageRevision{
				Title:   title,
				Rev:     RevNone,
				Node:    info.ID,
				Date:    info.Time,
				Author:  info.Author,
				Comment: info.Message,
			})
		}
	}
	return history, nil
}

// ChangedSince returns the titles of pages changed between the given
// backend revision and the current head. An empty or no longer resolvable
// revision yields every existing title, so consumers can resynchronize
// from scratch after history was rewritten.
func (s *Store) ChangedSince(rev string) ([]string, error) {
	head, err := s.backend.Head()
	if err != nil {
		if errors.Is(err, backend.ErrNoHead) {
			return nil, nil
		}
		return nil, err
	}
	if rev == head {
		return nil, nil
	}
	if rev != "" {
		paths, err := s.backend.DiffPaths(rev, head)
		if err == nil {
			return s.decodeTitles(paths), nil
		}
		if !errors.Is(err, backend.ErrNotFound) {
			return nil, err
		}
		slog.Warn("last known revision is gone, resynchronizing", "rev", shortNode(rev))
	}
	return s.AllTitles()
}

// AllTitles returns the titles of all pages existing at the current head,
// sorted.
func (s *Store) AllTitles() ([]string, error) {
	head, err := s.backend.Head()
	if err != nil {
		if errors.Is(err, backend.ErrNoHead) {
			return nil, nil
		}
		return nil, err
	}
	paths, err := s.backend.Files(head)
	if err != nil {
		return nil, err
	}
	return s.decodeTitles(paths), nil
}

// decodeTitles maps repository paths to page titles, dropping paths
// outside the pages prefix or otherwise undecodable, and deduplicates.
func (s *Store) decodeTitles(paths []string) []string {
	seen := make(map[string]bool)
	var titles []string
	prefix := strings.Trim(s.cfg.PagesPrefix, "/")
	for _, p := range paths {
		if prefix != "" && !strings.HasPrefix(p, prefix+"/") {
			continue
		}
		title, err := s.codec.Decode(p)
		if err != nil {
			slog.Debug("skipping undecodable path", "path", p)
			continue
		}
		if !seen[title] {
			seen[title] = true
			titles = append(titles, title)
		}
	}
	sort.Strings(titles)
	return titles
}
