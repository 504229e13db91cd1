package store_test

import (
	"errors"
	"testing"

	"github.com/sa/pagestore/internal/store"
	"github.com/sa/pagestore/internal/testutil"
)

func TestSessionPinnedRead(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	if _, err := env.Store.Save(testTitle, []byte("v1\n"), testAuthor, testComment); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sess := env.Store.NewSession()
	pr, err := sess.Read(testTitle)
	if err != nil {
		t.Fatalf("session Read failed: %v", err)
	}
	if string(pr.Data) != "v1\n" {
		t.Errorf("session read = %q, want %q", pr.Data, "v1\n")
	}

	if _, err := env.Store.Save(testTitle, []byte("v2\n"), testAuthor, testComment); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !sess.Stale() {
		t.Error("session not stale after a store write")
	}
	pr, err = sess.Read(testTitle)
	if err != nil {
		t.Fatalf("session Read failed: %v", err)
	}
	if string(pr.Data) != "v1\n" {
		t.Errorf("stale session read = %q, want the pinned %q", pr.Data, "v1\n")
	}

	if err := sess.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if sess.Stale() {
		t.Error("session still stale after Refresh")
	}
	pr, err = sess.Read(testTitle)
	if err != nil {
		t.Fatalf("session Read failed: %v", err)
	}
	if string(pr.Data) != "v2\n" {
		t.Errorf("refreshed session read = %q, want %q", pr.Data, "v2\n")
	}
}

func TestSessionEmptyRepository(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	sess := env.Store.NewSession()
	if _, err := sess.Head(); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("session head on empty repository error = %v, want ErrNotFound", err)
	}
}

func TestSessionContains(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	if _, err := env.Store.Save(testTitle, []byte("x"), testAuthor, testComment); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sess := env.Store.NewSession()
	if !sess.Contains(testTitle) {
		t.Error("session Contains false for an existing page")
	}

	if _, err := env.Store.Delete(testTitle, testAuthor, testComment); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !sess.Contains(testTitle) {
		t.Error("pinned session lost sight of the page after a later delete")
	}
	if err := sess.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if sess.Contains(testTitle) {
		t.Error("refreshed session still sees the deleted page")
	}
}

func TestSessionIDs(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	a := env.Store.NewSession()
	b := env.Store.NewSession()
	if a.ID() == b.ID() {
		t.Error("two sessions share an identifier")
	}
}
