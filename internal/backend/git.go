package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var errIterDone = errors.New("iteration done")

// GitBackend implements Backend using a git repository. Commits are built
// at the plumbing level so they can carry two parents and tombstones; the
// worktree is never touched.
type GitBackend struct {
	path string
	repo *git.Repository

	// mu guards access to the repository object; writeMu serializes
	// whole write sequences and is always acquired first.
	mu      sync.Mutex
	writeMu sync.Mutex
}

// Open opens the git repository at path, creating it when create is set.
// Opening fails with ErrStorage when the path exists but is not a usable
// repository root.
func Open(path string, create bool) (*GitBackend, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %q: %v", ErrStorage, path, err)
	}

	repo, err := git.PlainOpen(absPath)
	if err != nil {
		if !create || !errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: no usable repository in %q: %v", ErrStorage, absPath, err)
		}
		if err := os.MkdirAll(absPath, 0o775); err != nil {
			return nil, fmt.Errorf("%w: creating %q: %v", ErrStorage, absPath, err)
		}
		repo, err = git.PlainInit(absPath, false)
		if err != nil {
			return nil, fmt.Errorf("%w: initializing %q: %v", ErrStorage, absPath, err)
		}
		slog.Info("initialized repository", "path", absPath)
	}

	return &GitBackend{path: absPath, repo: repo}, nil
}

// Path returns the repository root path.
func (g *GitBackend) Path() string {
	return g.path
}

// Lock acquires the write lock.
func (g *GitBackend) Lock() (unlock func()) {
	g.writeMu.Lock()
	return g.writeMu.Unlock
}

// Head returns the current tip commit id.
func (g *GitBackend) Head() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.headLocked()
}

func (g *GitBackend) headLocked() (string, error) {
	ref, err := g.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", ErrNoHead
		}
		return "", fmt.Errorf("%w: reading head: %v", ErrStorage, err)
	}
	return ref.Hash().String(), nil
}

// resolve returns the commit object for a revision id, or for the head
// when rev is empty.
func (g *GitBackend) resolve(rev string) (*object.Commit, error) {
	if rev == "" {
		head, err := g.headLocked()
		if err != nil {
			return nil, err
		}
		rev = head
	}
	if len(rev) != 40 {
		return nil, fmt.Errorf("%w: revision %q", ErrNotFound, rev)
	}
	commit, err := g.repo.CommitObject(plumbing.NewHash(rev))
	if err != nil {
		return nil, fmt.Errorf("%w: revision %q", ErrNotFound, rev)
	}
	return commit, nil
}

// Blob returns the content of path at a revision.
func (g *GitBackend) Blob(rev, path string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	commit, err := g.resolve(rev)
	if err != nil {
		return nil, err
	}
	file, err := commit.File(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q at %s", ErrNotFound, path, commit.Hash.String()[:7])
	}
	r, err := file.Blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %v", ErrStorage, path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %v", ErrStorage, path, err)
	}
	return data, nil
}

// Contains reports whether path exists as a file at the revision.
func (g *GitBackend) Contains(rev, path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	commit, err := g.resolve(rev)
	if err != nil {
		return false
	}
	_, err = commit.File(path)
	return err == nil
}

// IsTreeDir reports whether path is a directory at the revision.
func (g *GitBackend) IsTreeDir(rev, path string) bool {
	if path == "" || path == "." {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	commit, err := g.resolve(rev)
	if err != nil {
		return false
	}
	tree, err := commit.Tree()
	if err != nil {
		return false
	}
	_, err = tree.Tree(path)
	return err == nil
}

// Parents returns the parent commit ids of a revision.
func (g *GitBackend) Parents(rev string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	commit, err := g.resolve(rev)
	if err != nil {
		return nil, err
	}
	parents := make([]string, 0, len(commit.ParentHashes))
	for _, h := range commit.ParentHashes {
		parents = append(parents, h.String())
	}
	return parents, nil
}

// Info returns the metadata of a single commit.
func (g *GitBackend) Info(rev string) (CommitInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	commit, err := g.resolve(rev)
	if err != nil {
		return CommitInfo{}, err
	}
	return g.commitInfo(commit)
}

// commitInfo converts a commit into a CommitInfo, computing the touched
// paths against the first parent (or the whole tree for a root commit).
func (g *GitBackend) commitInfo(commit *object.Commit) (CommitInfo, error) {
	info := CommitInfo{
		ID:      commit.Hash.String(),
		Author:  commit.Author.Name,
		Message: strings.TrimSpace(commit.Message),
		Time:    commit.Author.When,
	}
	for _, h := range commit.ParentHashes {
		info.Parents = append(info.Parents, h.String())
	}

	commitTree, err := commit.Tree()
	if err != nil {
		return info, fmt.Errorf("%w: tree of %s: %v", ErrStorage, info.ID[:7], err)
	}

	if len(commit.ParentHashes) == 0 {
		err := commitTree.Files().ForEach(func(f *object.File) error {
			info.Paths = append(info.Paths, f.Name)
			return nil
		})
		if err != nil {
			return info, fmt.Errorf("%w: listing %s: %v", ErrStorage, info.ID[:7], err)
		}
		return info, nil
	}

	// A path counts as touched only when it differs from every parent.
	// For a merge commit, content already present on one branch belongs
	// to that branch's own commits, not to the merge.
	var touched map[string]bool
	for i := range commit.ParentHashes {
		parent, err := commit.Parent(i)
		if err != nil {
			return info, fmt.Errorf("%w: parent of %s: %v", ErrStorage, info.ID[:7], err)
		}
		parentTree, err := parent.Tree()
		if err != nil {
			return info, fmt.Errorf("%w: tree of %s: %v", ErrStorage, parent.Hash.String()[:7], err)
		}
		changes, err := object.DiffTreeWithOptions(context.Background(), parentTree, commitTree,
			&object.DiffTreeOptions{DetectRenames: true})
		if err != nil {
			return info, fmt.Errorf("%w: diffing %s: %v", ErrStorage, info.ID[:7], err)
		}
		cur := make(map[string]bool)
		for _, change := range changes {
			from, to := change.From.Name, change.To.Name
			if from != "" && to != "" && from != to {
				if info.Renames == nil {
					info.Renames = make(map[string]string)
				}
				if _, ok := info.Renames[to]; !ok {
					info.Renames[to] = from
				}
			}
			if from != "" {
				cur[from] = true
			}
			if to != "" {
				cur[to] = true
			}
		}
		if i == 0 {
			touched = cur
			continue
		}
		for p := range touched {
			if !cur[p] {
				delete(touched, p)
			}
		}
	}

	for p := range touched {
		info.Paths = append(info.Paths, p)
	}
	sort.Strings(info.Paths)
	for to := range info.Renames {
		if !touched[to] {
			delete(info.Renames, to)
		}
	}
	return info, nil
}

// Log walks the commit graph newest first.
func (g *GitBackend) Log(opts LogOptions) ([]CommitInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	from, err := g.resolve(opts.From)
	if err != nil {
		if errors.Is(err, ErrNoHead) {
			return nil, nil
		}
		return nil, err
	}

	// Ancestry-order walk rather than committer-time order: commits made
	// within the same second would otherwise interleave across a merge.
	// Writes are serialized, so every commit has the previous head as an
	// ancestor and the walk is newest first.
	target := opts.Path
	var result []CommitInfo
	iter := object.NewCommitPostorderIter(from, nil)
	defer iter.Close()

	err = iter.ForEach(func(commit *object.Commit) error {
		if opts.Limit > 0 && len(result) >= opts.Limit {
			return errIterDone
		}
		info, err := g.commitInfo(commit)
		if err != nil {
			return err
		}
		if target != "" {
			touched := false
			for _, p := range info.Paths {
				if p == target {
					touched = true
					break
				}
			}
			if !touched {
				return nil
			}
			// Follow the path backwards through a rename.
			if old, ok := info.Renames[target]; ok {
				target = old
			}
		}
		result = append(result, info)
		return nil
	})
	if err != nil && !errors.Is(err, errIterDone) {
		return nil, err
	}
	return result, nil
}

// DiffPaths returns the paths touched between two revisions.
func (g *GitBackend) DiffPaths(old, new string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	oldCommit, err := g.resolve(old)
	if err != nil {
		return nil, err
	}
	newCommit, err := g.resolve(new)
	if err != nil {
		return nil, err
	}
	oldTree, err := oldCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("%w: tree of %s: %v", ErrStorage, oldCommit.Hash.String()[:7], err)
	}
	newTree, err := newCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("%w: tree of %s: %v", ErrStorage, newCommit.Hash.String()[:7], err)
	}

	changes, err := oldTree.Diff(newTree)
	if err != nil {
		return nil, fmt.Errorf("%w: diffing trees: %v", ErrStorage, err)
	}
	seen := make(map[string]bool)
	var paths []string
	for _, change := range changes {
		for _, name := range []string{change.From.Name, change.To.Name} {
			if name != "" && !seen[name] {
				seen[name] = true
				paths = append(paths, name)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Files lists every file path in the tree at the revision.
func (g *GitBackend) Files(rev string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	commit, err := g.resolve(rev)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("%w: tree of %s: %v", ErrStorage, commit.Hash.String()[:7], err)
	}
	var paths []string
	err = tree.Files().ForEach(func(f *object.File) error {
		paths = append(paths, f.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing files: %v", ErrStorage, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Commit atomically records the requested writes. The new tree is based on
// the newest parent (Other when set, Parent otherwise) so that paths not
// written keep their head state.
func (g *GitBackend) Commit(req CommitRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var parents []plumbing.Hash
	var baseCommit *object.Commit
	if req.Parent != "" {
		c, err := g.resolve(req.Parent)
		if err != nil {
			return "", err
		}
		parents = append(parents, c.Hash)
		baseCommit = c
	}
	if req.Other != "" {
		c, err := g.resolve(req.Other)
		if err != nil {
			return "", err
		}
		parents = append(parents, c.Hash)
		baseCommit = c
	}

	var baseTree *object.Tree
	if baseCommit != nil {
		t, err := baseCommit.Tree()
		if err != nil {
			return "", fmt.Errorf("%w: tree of %s: %v", ErrStorage, baseCommit.Hash.String()[:7], err)
		}
		baseTree = t
	}

	treeHash, _, err := g.applyTree(baseTree, req.Writes)
	if err != nil {
		return "", err
	}

	sig := object.Signature{Name: req.Author, When: req.Time}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      req.Message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	}
	obj := g.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", fmt.Errorf("%w: encoding commit: %v", ErrStorage, err)
	}
	commitHash, err := g.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("%w: writing commit: %v", ErrStorage, err)
	}

	if err := g.advanceHead(commitHash); err != nil {
		return "", err
	}
	return commitHash.String(), nil
}

// advanceHead moves the current branch ref to the new commit. The ref
// update is the commit point: objects written before it are unreachable
// garbage if it fails.
func (g *GitBackend) advanceHead(commitHash plumbing.Hash) error {
	headRef, err := g.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return fmt.Errorf("%w: resolving HEAD: %v", ErrStorage, err)
	}
	branch := headRef.Target()
	old, err := g.repo.Reference(branch, true)
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("%w: resolving %s: %v", ErrStorage, branch, err)
	}
	newRef := plumbing.NewHashReference(branch, commitHash)
	if err := g.repo.Storer.CheckAndSetReference(newRef, old); err != nil {
		return fmt.Errorf("%w: advancing %s: %v", ErrStorage, branch, err)
	}
	return nil
}

var _ Backend = (*GitBackend)(nil)
