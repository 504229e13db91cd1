// Package index maintains a sqlite search index over the page store:
// word occurrence counts for full-text search and the link graph for
// backlinks, orphaned and wanted pages. The index trails the repository
// and catches up incrementally from the set of pages changed since the
// last indexed revision.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sa/pagestore/internal/store"
)

// Link is one outgoing link found in a page.
type Link struct {
	Target string
	Label  string
}

// LinkExtractor pulls the outgoing links out of page text. The default
// understands [[target]] and [[target|label]].
type LinkExtractor func(text string) []Link

var linkPattern = regexp.MustCompile(`\[\[([^]|\n]+)(?:\|([^]\n]+))?\]\]`)

// DefaultLinkExtractor extracts double-bracket links.
func DefaultLinkExtractor(text string) []Link {
	var links []Link
	for _, m := range linkPattern.FindAllStringSubmatch(text, -1) {
		l := Link{Target: strings.TrimSpace(m[1])}
		if m[2] != "" {
			l.Label = strings.TrimSpace(m[2])
		} else {
			l.Label = l.Target
		}
		links = append(links, l)
	}
	return links
}

// Indexer is the search index. Updates are serialized internally; queries
// can run concurrently with an update and see the previous state.
type Indexer struct {
	db      *sql.DB
	store   *store.Store
	extract LinkExtractor

	mu sync.Mutex // serializes Update
}

const schema = `
CREATE TABLE IF NOT EXISTS titles (
	id INTEGER PRIMARY KEY,
	title TEXT UNIQUE NOT NULL
);
CREATE TABLE IF NOT EXISTS words (
	word TEXT NOT NULL,
	page INTEGER NOT NULL REFERENCES titles(id),
	count INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS words_word ON words (word);
CREATE INDEX IF NOT EXISTS words_page ON words (page);
CREATE TABLE IF NOT EXISTS links (
	src INTEGER NOT NULL REFERENCES titles(id),
	target TEXT NOT NULL,
	label TEXT NOT NULL,
	number INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS links_src ON links (src);
CREATE INDEX IF NOT EXISTS links_target ON links (target);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Open opens or creates the index database at path. A nil extract uses
// the default link syntax.
func Open(path string, st *store.Store, extract LinkExtractor) (*Indexer, error) {
	if extract == nil {
		extract = DefaultLinkExtractor
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing index schema: %w", err)
	}
	return &Indexer{db: db, store: st, extract: extract}, nil
}

// Close closes the index database.
func (ix *Indexer) Close() error {
	return ix.db.Close()
}

// Update brings the index up to date with the repository head. Only pages
// changed since the last indexed revision are reindexed; when that
// revision is no longer resolvable every page is.
func (ix *Indexer) Update(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	last, err := ix.lastRevision(ctx)
	if err != nil {
		return err
	}
	head, err := ix.store.HeadRevision()
	if err != nil {
		// An empty repository has nothing to index.
		return nil
	}
	if head == last {
		return nil
	}
	titles, err := ix.store.ChangedSince(last)
	if err != nil {
		return err
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting index transaction: %w", err)
	}
	defer tx.Rollback()

	for _, title := range titles {
		page, err := ix.store.Read(title)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := ix.deletePage(ctx, tx, title); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := ix.reindexPage(ctx, tx, page); err != nil {
				return err
			}
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('revision', ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, head); err != nil {
		return fmt.Errorf("recording indexed revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index update: %w", err)
	}
	slog.Info("index updated", "pages", len(titles), "revision", head[:min(7, len(head))])
	return nil
}

// lastRevision returns the backend revision the index was last updated
// to, or empty for a fresh index.
func (ix *Indexer) lastRevision(ctx context.Context) (string, error) {
	var rev string
	err := ix.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = 'revision'`).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading indexed revision: %w", err)
	}
	return rev, nil
}

func (ix *Indexer) reindexPage(ctx context.Context, tx *sql.Tx, page store.PageRevision) error {
	id, err := titleID(ctx, tx, page.Title)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM words WHERE page = ?`, id); err != nil {
		return fmt.Errorf("clearing words for %q: %w", page.Title, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE src = ?`, id); err != nil {
		return fmt.Errorf("clearing links for %q: %w", page.Title, err)
	}

	text := string(page.Data)
	// The title itself counts as occurring in the page.
	counts := countWords(page.Title + " " + text)
	for word, count := range counts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO words (word, page, count) VALUES (?, ?, ?)`,
			word, id, count); err != nil {
			return fmt.Errorf("indexing words for %q: %w", page.Title, err)
		}
	}
	for i, link := range ix.extract(text) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO links (src, target, label, number) VALUES (?, ?, ?, ?)`,
			id, link.Target, link.Label, i); err != nil {
			return fmt.Errorf("indexing links for %q: %w", page.Title, err)
		}
	}
	return nil
}

func (ix *Indexer) deletePage(ctx context.Context, tx *sql.Tx, title string) error {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM titles WHERE title = ?`, title).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up %q: %w", title, err)
	}
	for _, q := range []string{
		`DELETE FROM words WHERE page = ?`,
		`DELETE FROM links WHERE src = ?`,
		`DELETE FROM titles WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("removing %q from index: %w", title, err)
		}
	}
	return nil
}

// titleID returns the id of a title, inserting it if needed.
func titleID(ctx context.Context, tx *sql.Tx, title string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM titles WHERE title = ?`, title).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("looking up %q: %w", title, err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO titles (title) VALUES (?)`, title)
	if err != nil {
		return 0, fmt.Errorf("registering %q: %w", title, err)
	}
	return res.LastInsertId()
}

// countWords splits text into lowercased words and counts occurrences.
func countWords(text string) map[string]int {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[strings.ToLower(w)]++
	}
	return counts
}

// Find returns the titles of pages containing all the given words,
// best-scoring first. The score of a page is the summed occurrence count
// of the searched words.
func (ix *Indexer) Find(ctx context.Context, words []string) ([]string, error) {
	lowered := make([]string, 0, len(words))
	args := make([]any, 0, len(words)+1)
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		lowered = append(lowered, w)
		args = append(args, w)
	}
	if len(lowered) == 0 {
		return nil, nil
	}
	args = append(args, len(lowered))

	query := fmt.Sprintf(
		`SELECT t.title
		 FROM words w JOIN titles t ON w.page = t.id
		 WHERE w.word IN (%s)
		 GROUP BY t.id
		 HAVING COUNT(DISTINCT w.word) = ?
		 ORDER BY SUM(w.count) DESC, t.title`,
		placeholders(len(lowered)))
	return ix.queryTitles(ctx, query, args...)
}

// Backlinks returns the titles of pages linking to the given page.
func (ix *Indexer) Backlinks(ctx context.Context, title string) ([]string, error) {
	return ix.queryTitles(ctx,
		`SELECT DISTINCT t.title
		 FROM links l JOIN titles t ON l.src = t.id
		 WHERE l.target = ?
		 ORDER BY t.title`, title)
}

// Orphans returns the titles of pages no other page links to.
func (ix *Indexer) Orphans(ctx context.Context) ([]string, error) {
	return ix.queryTitles(ctx,
		`SELECT title FROM titles
		 WHERE title NOT IN (SELECT DISTINCT target FROM links)
		 ORDER BY title`)
}

// Wanted returns link targets that do not exist as pages, most linked-to
// first.
func (ix *Indexer) Wanted(ctx context.Context) ([]string, error) {
	targets, err := ix.queryTitles(ctx,
		`SELECT target FROM links
		 WHERE target NOT IN (SELECT title FROM titles)
		 GROUP BY target
		 ORDER BY COUNT(*) DESC, target`)
	if err != nil {
		return nil, err
	}
	wanted := targets[:0]
	for _, t := range targets {
		// External targets are not pages.
		if strings.Contains(t, "://") || strings.HasPrefix(t, "#") {
			continue
		}
		wanted = append(wanted, t)
	}
	return wanted, nil
}

func (ix *Indexer) queryTitles(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer rows.Close()
	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning index row: %w", err)
		}
		titles = append(titles, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	return titles, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
