package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// applyTree writes a new tree derived from base with the given path writes
// applied; a nil value removes the path. It returns the new tree hash and
// whether the resulting tree is empty, so callers can prune empty
// directories the way git does.
func (g *GitBackend) applyTree(base *object.Tree, writes map[string][]byte) (plumbing.Hash, bool, error) {
	entries := make(map[string]object.TreeEntry)
	if base != nil {
		for _, e := range base.Entries {
			entries[e.Name] = e
		}
	}

	nested := make(map[string]map[string][]byte)
	for p, data := range writes {
		name, rest, isNested := strings.Cut(p, "/")
		if isNested {
			if nested[name] == nil {
				nested[name] = make(map[string][]byte)
			}
			nested[name][rest] = data
			continue
		}
		if data == nil {
			delete(entries, name)
			continue
		}
		blobHash, err := g.writeBlob(data)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		entries[name] = object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: blobHash}
	}

	for name, sub := range nested {
		var subtree *object.Tree
		if e, ok := entries[name]; ok && e.Mode == filemode.Dir {
			t, err := g.repo.TreeObject(e.Hash)
			if err != nil {
				return plumbing.ZeroHash, false, fmt.Errorf("%w: subtree %q: %v", ErrStorage, name, err)
			}
			subtree = t
		}
		subHash, empty, err := g.applyTree(subtree, sub)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		if empty {
			delete(entries, name)
			continue
		}
		entries[name] = object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: subHash}
	}

	list := make([]object.TreeEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	// Git tree order: directories sort as if their name had a trailing
	// slash.
	sort.Slice(list, func(i, j int) bool {
		return treeSortKey(list[i]) < treeSortKey(list[j])
	})

	tree := &object.Tree{Entries: list}
	obj := g.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("%w: encoding tree: %v", ErrStorage, err)
	}
	hash, err := g.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("%w: writing tree: %v", ErrStorage, err)
	}
	return hash, len(list) == 0, nil
}

func treeSortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

// writeBlob stores data as a blob object and returns its hash.
func (g *GitBackend) writeBlob(data []byte) (plumbing.Hash, error) {
	obj := g.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: writing blob: %v", ErrStorage, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, fmt.Errorf("%w: writing blob: %v", ErrStorage, err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: writing blob: %v", ErrStorage, err)
	}
	hash, err := g.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: writing blob: %v", ErrStorage, err)
	}
	return hash, nil
}
