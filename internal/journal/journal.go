// Package journal keeps a git history of the stash tree, one commit per
// reconciliation pass that changed it.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"tabstash/api/internal/reconcile"
	"tabstash/api/internal/tree"
)

const (
	stashFile = "stash.json"
	branch    = "main"
	author    = "tabstash"
	email     = "tabstash@localhost"
)

type Entry struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Journal struct {
	dir string
	mu  sync.Mutex
}

// Open returns a journal rooted at dir, initializing the repository on
// first use.
func Open(dir string) (*Journal, error) {
	j := &Journal{dir: dir}
	if err := j.ensureRepo(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) ensureRepo() error {
	if _, err := os.Stat(filepath.Join(j.dir, ".git")); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat journal repo: %w", err)
	}

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	repo, err := git.PlainInit(j.dir, false)
	if err != nil {
		return fmt.Errorf("init journal repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))); err != nil {
		return fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return nil
}

func (j *Journal) Name() string {
	return "journal"
}

// Observe commits the pass snapshot. Passes that leave the tree unchanged
// produce no commit.
func (j *Journal) Observe(_ context.Context, pass reconcile.PassResult) error {
	message := fmt.Sprintf("Reconcile pass %s\n\nmanaged=%d removed=%d closed=%d",
		pass.ID, pass.Managed, len(pass.Removed), len(pass.Closed))
	_, err := j.Commit(pass.Snapshot.Root, message, pass.FinishedAt)
	return err
}

// Commit writes root as the stash file. The returned Entry is zero when the
// stash is unchanged since the last commit.
func (j *Journal) Commit(root *tree.Node, message string, when time.Time) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	repo, err := git.PlainOpen(j.dir)
	if err != nil {
		return Entry{}, fmt.Errorf("open journal repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Entry{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return Entry{}, fmt.Errorf("marshal stash: %w", err)
	}
	if err := os.WriteFile(filepath.Join(j.dir, stashFile), append(payload, '\n'), 0o644); err != nil {
		return Entry{}, fmt.Errorf("write %s: %w", stashFile, err)
	}
	if _, err := worktree.Add(stashFile); err != nil {
		return Entry{}, fmt.Errorf("git add stash: %w", err)
	}

	if when.IsZero() {
		when = time.Now()
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: author, Email: email, When: when},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return Entry{}, nil
	}
	if err != nil {
		return Entry{}, fmt.Errorf("commit stash: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Entry{}, fmt.Errorf("read commit object: %w", err)
	}
	return toEntry(commitObj), nil
}

// History lists commits newest first. limit <= 0 means all.
func (j *Journal) History(limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	repo, err := git.PlainOpen(j.dir)
	if err != nil {
		return nil, fmt.Errorf("open journal repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Entry, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toEntry(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Snapshot returns the stash tree recorded at hash (full or abbreviated).
func (j *Journal) Snapshot(hash string) (*tree.Node, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	repo, err := git.PlainOpen(j.dir)
	if err != nil {
		return nil, fmt.Errorf("open journal repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(stashFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", stashFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", stashFile, err)
	}

	var root *tree.Node
	if err := json.Unmarshal([]byte(contents), &root); err != nil {
		return nil, fmt.Errorf("decode stash: %w", err)
	}
	return root, nil
}

func toEntry(commitObj *object.Commit) Entry {
	return Entry{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}
