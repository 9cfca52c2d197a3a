// Package archive keeps a git-backed history of each account's snapshot.
// One bare-ish repo per account, one snapshot.json on main, one commit per
// accepted write. The archive exists for recovery: a bad merge can be undone
// by fetching any earlier version.
package archive

import (
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
)

const snapshotFile = "snapshot.json"

// Version describes one archived snapshot revision.
type Version struct {
	Hash         string    `json:"hash"`
	Message      string    `json:"message"`
	LastModified int64     `json:"lastModified"`
	CommittedAt  time.Time `json:"committedAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Commit records the account's new snapshot. The repo is created on first
// write. lastModified is carried in the commit message trailer so History
// can report it without reading every blob.
func (s *Service) Commit(accountID string, state []byte, lastModified int64) (Version, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(accountID)
	if err != nil {
		return Version{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Version{}, fmt.Errorf("open worktree: %w", err)
	}

	path := filepath.Join(s.repoPath(accountID), snapshotFile)
	if err := os.WriteFile(path, append(normalize(state), '\n'), 0o644); err != nil {
		return Version{}, fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Version{}, fmt.Errorf("git add snapshot: %w", err)
	}

	message := fmt.Sprintf("Snapshot update\n\nlastModified: %d", lastModified)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "suivour",
			Email: "archive@suivour.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return Version{}, fmt.Errorf("commit snapshot: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Version{}, fmt.Errorf("read commit object: %w", err)
	}
	return toVersion(commitObj), nil
}

// History lists archived versions from newest to oldest.
func (s *Service) History(accountID string, limit int) ([]Version, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(accountID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	versions := make([]Version, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		versions = append(versions, toVersion(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return versions, nil
}

// StateByHash returns the archived snapshot bytes and version metadata at
// one revision. Short hashes are accepted.
func (s *Service) StateByHash(accountID, hash string) ([]byte, Version, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(accountID))
	if err != nil {
		return nil, Version{}, fmt.Errorf("open repo: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, Version{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, Version{}, fmt.Errorf("read commit %s: %w", hash, err)
	}

	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, Version{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, Version{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	state, err := io.ReadAll(reader)
	if err != nil {
		return nil, Version{}, fmt.Errorf("read snapshot: %w", err)
	}
	return state, toVersion(commitObj), nil
}

func (s *Service) ensureRepo(accountID string) (*git.Repository, error) {
	path := s.repoPath(accountID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(accountID string) string {
	return filepath.Join(s.baseDir, accountID)
}

func (s *Service) accountLock(accountID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[accountID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[accountID] = lock
	return lock
}

func toVersion(commitObj *object.Commit) Version {
	return Version{
		Hash:         commitObj.Hash.String()[:12],
		Message:      firstLine(commitObj.Message),
		LastModified: lastModifiedFromMessage(commitObj.Message),
		CommittedAt:  commitObj.Author.When,
	}
}

func firstLine(message string) string {
	line, _, _ := strings.Cut(message, "\n")
	return line
}

func lastModifiedFromMessage(message string) int64 {
	const trailer = "lastModified: "
	_, rest, found := strings.Cut(message, trailer)
	if !found {
		return 0
	}
	var value int64
	if _, err := fmt.Sscanf(rest, "%d", &value); err != nil {
		return 0
	}
	return value
}

func normalize(state []byte) []byte {
	var parsed any
	if err := json.Unmarshal(state, &parsed); err != nil {
		return state
	}
	pretty, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return state
	}
	return pretty
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
