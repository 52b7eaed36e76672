// Package archive keeps a git history of every verdict version, one
// repository per court session.
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

	"courtroom/api/internal/court"
)

var ErrNotArchived = errors.New("verdict version not archived")

type Commit struct {
	Hash      string    `json:"hash"`
	Version   int       `json:"version"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
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

// CommitVersion writes verdicts/v<N>.json and commits it. Committing a
// version that is already archived returns the existing commit.
func (s *Service) CommitVersion(sessionID string, version court.VerdictVersion, author string) (Commit, error) {
	if err := validSessionID(sessionID); err != nil {
		return Commit{}, err
	}
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	repo, fresh, err := s.openOrInit(sessionID)
	if err != nil {
		return Commit{}, err
	}
	if !fresh {
		if existing, err := findVersion(repo, version.Version); err == nil {
			return existing, nil
		} else if !errors.Is(err, ErrNotArchived) {
			return Commit{}, err
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(version, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal verdict version: %w", err)
	}
	name := versionPath(version.Version)
	repoRoot := worktree.Filesystem.Root()
	if err := os.MkdirAll(filepath.Join(repoRoot, "verdicts"), 0o755); err != nil {
		return Commit{}, fmt.Errorf("create verdicts dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(repoRoot, name), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := worktree.Add(name); err != nil {
		return Commit{}, fmt.Errorf("git add %s: %w", name, err)
	}

	if strings.TrimSpace(author) == "" {
		author = "court"
	}
	when := version.CreatedAt
	if when.IsZero() {
		when = time.Now()
	}
	hash, err := worktree.Commit(commitMessage(sessionID, version), &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@court.local", sanitizeEmail(author)),
			When:  when,
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit verdict version: %w", err)
	}
	if fresh {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
			return Commit{}, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
			return Commit{}, fmt.Errorf("set HEAD to main: %w", err)
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// History lists archived commits, newest first. A session without an
// archive has an empty history.
func (s *Service) History(sessionID string, limit int) ([]Commit, error) {
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sessionID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return history(repo, limit)
}

// Read returns the archived copy of one verdict version.
func (s *Service) Read(sessionID string, version int) (court.VerdictVersion, error) {
	if err := validSessionID(sessionID); err != nil {
		return court.VerdictVersion{}, err
	}
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sessionID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return court.VerdictVersion{}, ErrNotArchived
	}
	if err != nil {
		return court.VerdictVersion{}, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Head()
	if err != nil {
		return court.VerdictVersion{}, fmt.Errorf("resolve HEAD: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return court.VerdictVersion{}, fmt.Errorf("load commit object: %w", err)
	}
	file, err := commitObj.File(versionPath(version))
	if errors.Is(err, object.ErrFileNotFound) {
		return court.VerdictVersion{}, ErrNotArchived
	}
	if err != nil {
		return court.VerdictVersion{}, fmt.Errorf("load %s: %w", versionPath(version), err)
	}
	reader, err := file.Reader()
	if err != nil {
		return court.VerdictVersion{}, fmt.Errorf("open verdict reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return court.VerdictVersion{}, fmt.Errorf("read verdict bytes: %w", err)
	}
	var out court.VerdictVersion
	if err := json.Unmarshal(raw, &out); err != nil {
		return court.VerdictVersion{}, fmt.Errorf("decode verdict version: %w", err)
	}
	return out, nil
}

func (s *Service) openOrInit(sessionID string) (*git.Repository, bool, error) {
	path := s.repoPath(sessionID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (s *Service) repoPath(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[sessionID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[sessionID] = lock
	return lock
}

func history(repo *git.Repository, limit int) ([]Commit, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
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

func findVersion(repo *git.Repository, version int) (Commit, error) {
	items, err := history(repo, 0)
	if err != nil {
		return Commit{}, err
	}
	for _, item := range items {
		if item.Version == version {
			return item, nil
		}
	}
	return Commit{}, ErrNotArchived
}

func versionPath(version int) string {
	return fmt.Sprintf("verdicts/v%d.json", version)
}

func commitMessage(sessionID string, version court.VerdictVersion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verdict v%d\n\nsession: %s", version.Version, sessionID)
	if version.Addendum != nil {
		fmt.Fprintf(&b, "\naddendum-by: %s", version.Addendum.Author)
	}
	if version.Resolution != nil {
		fmt.Fprintf(&b, "\nresolution: %s", version.Resolution.ID)
	}
	return b.String()
}

func toCommit(commitObj *object.Commit) Commit {
	var version int
	_, _ = fmt.Sscanf(commitObj.Message, "Verdict v%d", &version)
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Version:   version,
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func validSessionID(sessionID string) error {
	if sessionID == "" || sessionID != filepath.Base(sessionID) || strings.HasPrefix(sessionID, ".") {
		return fmt.Errorf("invalid session id %q", sessionID)
	}
	return nil
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "court"
	}
	return string(out)
}
