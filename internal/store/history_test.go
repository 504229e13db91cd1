package store_test

import (
	"testing"

	"github.com/sa/pagestore/internal/config"
	"github.com/sa/pagestore/internal/testutil"
)

func TestPageMeta(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	if _, err := env.Store.Save(testTitle, []byte("text\n"), testAuthor, testComment); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	meta, err := env.Store.PageMeta(testTitle)
	if err != nil {
		t.Fatalf("PageMeta failed: %v", err)
	}
	if meta.Rev != 0 {
		t.Errorf("meta revision = %d, want 0", meta.Rev)
	}
	if meta.Author != testAuthor || meta.Comment != testComment {
		t.Errorf("meta = %q/%q, want %q/%q", meta.Author, meta.Comment, testAuthor, testComment)
	}
	if meta.Node == "" {
		t.Error("meta has no backend revision")
	}
}

func TestPageHistoryOrder(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	comments := []string{"first", "second", "third"}
	for _, c := range comments {
		if _, err := env.Store.Save(testTitle, []byte(c+"\n"), testAuthor, c); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	history, err := env.Store.PageHistory(testTitle)
	if err != nil {
		t.Fatalf("PageHistory failed: %v", err)
	}
	if len(history) != len(comments) {
		t.Fatalf("history length = %d, want %d", len(history), len(comments))
	}
	for i, pr := range history {
		wantRev := len(comments) - 1 - i
		if pr.Rev != wantRev {
			t.Errorf("entry %d revision = %d, want %d", i, pr.Rev, wantRev)
		}
		if pr.Comment != comments[wantRev] {
			t.Errorf("entry %d comment = %q, want %q", i, pr.Comment, comments[wantRev])
		}
	}
}

func TestMergeCommitLeavesOtherPagesAlone(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	if _, err := env.Store.Save("P", []byte("p one\n"), testAuthor, "p first"); err != nil {
		t.Fatalf("Save P failed: %v", err)
	}
	if _, err := env.Store.Save("P", []byte("p two\n"), testAuthor, "p second"); err != nil {
		t.Fatalf("Save P failed: %v", err)
	}
	if _, err := env.Store.Save("Q", []byte("q one\n"), testAuthor, "q first"); err != nil {
		t.Fatalf("Save Q failed: %v", err)
	}
	// A stale edit of P creates a two-parent merge commit on top of Q's
	// head revision.
	if _, err := env.Store.SaveAt("P", []byte("p three\n"), testAuthor, "p stale", 0); err != nil {
		t.Fatalf("SaveAt P failed: %v", err)
	}

	// Q must not inherit the merge commit as a revision of its own.
	q, err := env.Store.Read("Q")
	if err != nil {
		t.Fatalf("Read Q failed: %v", err)
	}
	if q.Rev != 0 || q.Comment != "q first" {
		t.Errorf("Q = rev %d comment %q, want rev 0 comment %q", q.Rev, q.Comment, "q first")
	}
	meta, err := env.Store.PageMeta("Q")
	if err != nil {
		t.Fatalf("PageMeta Q failed: %v", err)
	}
	if meta.Rev != 0 || meta.Comment != "q first" {
		t.Errorf("Q meta = rev %d comment %q, want rev 0 comment %q", meta.Rev, meta.Comment, "q first")
	}
	history, err := env.Store.PageHistory("Q")
	if err != nil {
		t.Fatalf("PageHistory Q failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Q history length = %d, want 1", len(history))
	}

	// P itself counts the merge as its third revision.
	p, err := env.Store.Read("P")
	if err != nil {
		t.Fatalf("Read P failed: %v", err)
	}
	if p.Rev != 2 || p.Comment != "p stale" {
		t.Errorf("P = rev %d comment %q, want rev 2 comment %q", p.Rev, p.Comment, "p stale")
	}
	if pr, err := env.Store.ReadAt("P", 1); err != nil || string(pr.Data) != "p two\n" {
		t.Errorf("ReadAt(P, 1) = %q, %v, want %q", pr.Data, err, "p two\n")
	}
}

func TestPageHistoryUnknownPage(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	history, err := env.Store.PageHistory("No Such Page")
	if err != nil {
		t.Fatalf("PageHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history of unknown page has %d entries", len(history))
	}
}

func TestWholeHistory(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	if _, err := env.Store.Save("First", []byte("1\n"), testAuthor, "one"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := env.Store.Save("Second", []byte("2\n"), testAuthor, "two"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	history, err := env.Store.WholeHistory(0)
	if err != nil {
		t.Fatalf("WholeHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Title != "Second" || history[1].Title != "First" {
		t.Errorf("history order = [%s %s], want [Second First]", history[0].Title, history[1].Title)
	}

	history, err = env.Store.WholeHistory(1)
	if err != nil {
		t.Fatalf("WholeHistory with limit failed: %v", err)
	}
	if len(history) != 1 || history[0].Title != "Second" {
		t.Errorf("limited history = %v, want just the newest change", history)
	}
}

func TestChangedSince(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	if _, err := env.Store.Save("A", []byte("a\n"), testAuthor, testComment); err != nil {
		t.Fatalf("Save A failed: %v", err)
	}
	afterA, err := env.Store.HeadRevision()
	if err != nil {
		t.Fatalf("HeadRevision failed: %v", err)
	}
	if _, err := env.Store.Save("B", []byte("b\n"), testAuthor, testComment); err != nil {
		t.Fatalf("Save B failed: %v", err)
	}

	// The sentinel "no revision yet" resynchronizes everything.
	titles, err := env.Store.ChangedSince("")
	if err != nil {
		t.Fatalf("ChangedSince(\"\") failed: %v", err)
	}
	if len(titles) != 2 || titles[0] != "A" || titles[1] != "B" {
		t.Errorf("full resync = %v, want [A B]", titles)
	}

	titles, err = env.Store.ChangedSince(afterA)
	if err != nil {
		t.Fatalf("ChangedSince failed: %v", err)
	}
	if len(titles) != 1 || titles[0] != "B" {
		t.Errorf("changed since A = %v, want [B]", titles)
	}

	head, err := env.Store.HeadRevision()
	if err != nil {
		t.Fatalf("HeadRevision failed: %v", err)
	}
	titles, err = env.Store.ChangedSince(head)
	if err != nil {
		t.Fatalf("ChangedSince(head) failed: %v", err)
	}
	if len(titles) != 0 {
		t.Errorf("changed since head = %v, want nothing", titles)
	}
}

func TestChangedSinceIncludesDeletions(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	if _, err := env.Store.Save("A", []byte("a\n"), testAuthor, testComment); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	before, err := env.Store.HeadRevision()
	if err != nil {
		t.Fatalf("HeadRevision failed: %v", err)
	}
	if _, err := env.Store.Delete("A", testAuthor, testComment); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	titles, err := env.Store.ChangedSince(before)
	if err != nil {
		t.Fatalf("ChangedSince failed: %v", err)
	}
	if len(titles) != 1 || titles[0] != "A" {
		t.Errorf("changed = %v, want the deleted page [A]", titles)
	}
}

func TestChangedSinceUnresolvable(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	if _, err := env.Store.Save("A", []byte("a\n"), testAuthor, testComment); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	titles, err := env.Store.ChangedSince("0000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("ChangedSince with unresolvable revision failed: %v", err)
	}
	if len(titles) != 1 || titles[0] != "A" {
		t.Errorf("resync = %v, want [A]", titles)
	}
}

func TestAllTitles(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	titles, err := env.Store.AllTitles()
	if err != nil {
		t.Fatalf("AllTitles on empty store failed: %v", err)
	}
	if len(titles) != 0 {
		t.Errorf("empty store lists titles: %v", titles)
	}

	for _, title := range []string{"B Page", "A Page"} {
		if _, err := env.Store.Save(title, []byte("x"), testAuthor, testComment); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	titles, err = env.Store.AllTitles()
	if err != nil {
		t.Fatalf("AllTitles failed: %v", err)
	}
	if len(titles) != 2 || titles[0] != "A Page" || titles[1] != "B Page" {
		t.Errorf("titles = %v, want [A Page, B Page]", titles)
	}
}

func TestAllTitlesWithPrefix(t *testing.T) {
	cfg := config.Default()
	cfg.PagesPrefix = "docs"
	env := testutil.SetupTestEnvWith(t, cfg)
	if _, err := env.Store.Save("Visible", []byte("x"), testAuthor, testComment); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	head, err := env.Backend.Head()
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if !env.Backend.Contains(head, "docs/Visible") {
		t.Error("page not stored under the configured prefix")
	}

	titles, err := env.Store.AllTitles()
	if err != nil {
		t.Fatalf("AllTitles failed: %v", err)
	}
	if len(titles) != 1 || titles[0] != "Visible" {
		t.Errorf("titles = %v, want [Visible]", titles)
	}
}
