package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	snapshotAuthorName  = "Turnpike"
	snapshotAuthorEmail = "turnpike@localhost"
)

// GitSnapshotter keeps snapshots of a project in a shadow repository. The
// repository's git dir lives outside the project, so the project's own git
// state is never touched. The project's .gitignore is honored.
type GitSnapshotter struct {
	root   string
	gitDir string

	mu   sync.Mutex
	repo *git.Repository
}

func NewGitSnapshotter(root, gitDir string) *GitSnapshotter {
	return &GitSnapshotter{root: root, gitDir: gitDir}
}

func (g *GitSnapshotter) open() (*git.Repository, error) {
	if g.repo != nil {
		return g.repo, nil
	}
	if err := os.MkdirAll(g.gitDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "could not create shadow git dir")
	}
	storage := filesystem.NewStorage(osfs.New(g.gitDir), cache.NewObjectLRUDefault())
	worktree := osfs.New(g.root)

	repo, err := git.Open(storage, worktree)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		log.Debug().Str("git_dir", g.gitDir).Str("root", g.root).Msg("initializing shadow repository")
		// initialized without a worktree, so no .git pointer file is written into the project
		if _, err = git.Init(storage, nil); err == nil {
			repo, err = git.Open(storage, worktree)
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not open shadow repository")
	}
	g.repo = repo
	return repo, nil
}

// excludes keeps the shadow git dir out of the snapshots when it lives inside the project.
func (g *GitSnapshotter) excludes() []gitignore.Pattern {
	ret := []gitignore.Pattern{gitignore.ParsePattern(".git", nil)}
	rel, err := filepath.Rel(g.root, g.gitDir)
	if err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		ret = append(ret, gitignore.ParsePattern("/"+filepath.ToSlash(rel), nil))
	}
	return ret
}

func (g *GitSnapshotter) worktree() (*git.Worktree, error) {
	repo, err := g.open()
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, errors.Wrap(err, "could not get shadow worktree")
	}
	patterns, err := gitignore.ReadPatterns(wt.Filesystem, nil)
	if err != nil {
		log.Debug().Err(err).Str("root", g.root).Msg("could not read gitignore patterns")
	}
	wt.Excludes = append(g.excludes(), patterns...)
	return wt, nil
}

func (g *GitSnapshotter) CreateSnapshot(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	wt, err := g.worktree()
	if err != nil {
		return "", err
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", errors.Wrap(err, "could not stage files")
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  snapshotAuthorName,
			Email: snapshotAuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "could not commit snapshot")
	}
	return hash.String(), nil
}

func (g *GitSnapshotter) CurrentHash(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := g.open()
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", errors.Wrap(err, "shadow repository has no snapshot")
	}
	return head.Hash().String(), nil
}

// Restore resets the tracked project files to the snapshot. Files created
// after the snapshot are left in place.
func (g *GitSnapshotter) Restore(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !plumbing.IsHash(hash) {
		return errors.Errorf("invalid snapshot hash %q", hash)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	wt, err := g.worktree()
	if err != nil {
		return err
	}
	if err := wt.Reset(&git.ResetOptions{Commit: plumbing.NewHash(hash), Mode: git.HardReset}); err != nil {
		return errors.Wrapf(err, "could not restore snapshot %s", hash)
	}
	return nil
}

var _ Snapshotter = (*GitSnapshotter)(nil)
