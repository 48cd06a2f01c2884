package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"mercator-hq/covenant/pkg/policy"
)

// DefaultGitTimeout bounds a single clone or pull.
const DefaultGitTimeout = 30 * time.Second

// GitConfig configures a GitSource.
type GitConfig struct {
	// URL is the remote repository (HTTPS, SSH or a local path).
	URL string

	// Branch to track. Default: "main".
	Branch string

	// Path is the policy directory inside the repository. Default: root.
	Path string

	// LocalPath is where the repository is cloned. An existing clone is
	// reused.
	LocalPath string

	// Depth limits clone history. Zero clones everything.
	Depth int

	// Timeout bounds each clone or pull. Default: 30s.
	Timeout time.Duration

	// Extensions limits which files are policies. Default: .yaml, .yml, .json.
	Extensions []string

	Auth GitAuth
}

// CommitInfo describes the commit a GitSource last synced to.
type CommitInfo struct {
	SHA       string
	Author    string
	Email     string
	Timestamp time.Time
	Message   string
}

// GitSource reports policy files from a git branch. The first FetchChanges
// clones (or opens) the repository and returns every policy file; later
// calls pull and return the files changed between the old and new HEAD.
// Deleted files are not reported.
type GitSource struct {
	cfg        GitConfig
	auth       transport.AuthMethod
	extensions map[string]bool
	logger     *slog.Logger

	mu   sync.Mutex
	repo *gogit.Repository
	head string
}

// NewGitSource validates cfg and resolves its credentials. No network
// access happens until the first FetchChanges.
func NewGitSource(cfg GitConfig, logger *slog.Logger) (*GitSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("local path cannot be empty")
	}
	if cfg.Depth < 0 {
		return nil, fmt.Errorf("clone depth cannot be negative")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGitTimeout
	}
	cfg.Path = strings.Trim(filepath.ToSlash(cfg.Path), "/")

	auth, err := cfg.Auth.method()
	if err != nil {
		return nil, fmt.Errorf("failed to create auth provider: %w", err)
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = []string{".yaml", ".yml", ".json"}
	}
	extSet := make(map[string]bool, len(exts))
	for _, ext := range exts {
		extSet[strings.ToLower(ext)] = true
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GitSource{
		cfg:        cfg,
		auth:       auth,
		extensions: extSet,
		logger:     logger.With("component", "source.git", "repository", cfg.URL, "branch", cfg.Branch),
	}, nil
}

// FetchChanges returns the policy files introduced since the last call.
func (s *GitSource) FetchChanges(ctx context.Context) ([]policy.PolicyChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo == nil {
		if err := s.open(ctx); err != nil {
			return nil, err
		}
		head, err := s.headSHA()
		if err != nil {
			return nil, err
		}
		files, err := s.listPolicyFiles()
		if err != nil {
			return nil, err
		}
		s.head = head
		return s.readChanges(files)
	}

	from := s.head
	if err := s.pull(ctx); err != nil {
		return nil, err
	}
	to, err := s.headSHA()
	if err != nil {
		return nil, err
	}
	if to == from {
		return nil, nil
	}

	files, err := s.changedFiles(from, to)
	if err != nil {
		return nil, err
	}
	s.head = to
	s.logger.Info("pulled policy changes", "from", short(from), "to", short(to), "files", len(files))
	return s.readChanges(files)
}

// Head returns the commit the source last synced to.
func (s *GitSource) Head() (*CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repo == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	commit, err := s.repo.CommitObject(plumbing.NewHash(s.head))
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	return commitInfo(commit), nil
}

func (s *GitSource) String() string { return "git:" + s.cfg.URL }

func (s *GitSource) open(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(s.cfg.LocalPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(s.cfg.LocalPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo: %w", err)
		}
		s.repo = repo
		return nil
	}

	if err := os.MkdirAll(s.cfg.LocalPath, 0755); err != nil {
		return fmt.Errorf("failed to create repository directory: %w", err)
	}

	cloneCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	repo, err := gogit.PlainCloneContext(cloneCtx, s.cfg.LocalPath, false, &gogit.CloneOptions{
		URL:           s.cfg.URL,
		ReferenceName: plumbing.NewBranchReferenceName(s.cfg.Branch),
		SingleBranch:  true,
		Depth:         s.cfg.Depth,
		Auth:          s.auth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	s.repo = repo
	s.logger.Info("cloned policy repository", "path", s.cfg.LocalPath)
	return nil
}

func (s *GitSource) pull(ctx context.Context) error {
	worktree, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	err = worktree.PullContext(pullCtx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(s.cfg.Branch),
		SingleBranch:  true,
		Auth:          s.auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to pull: %w", err)
	}
	return nil
}

func (s *GitSource) headSHA() (string, error) {
	ref, err := s.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// listPolicyFiles returns repository-relative slash paths of every policy file.
func (s *GitSource) listPolicyFiles() ([]string, error) {
	root := filepath.Join(s.cfg.LocalPath, filepath.FromSlash(s.cfg.Path))
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("policy path does not exist: %w", err)
	}

	var files []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if p != root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.cfg.LocalPath, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if s.isPolicyFile(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// changedFiles diffs the trees of two commits and keeps added or modified
// policy files.
func (s *GitSource) changedFiles(fromSHA, toSHA string) ([]string, error) {
	fromTree, err := s.tree(fromSHA)
	if err != nil {
		return nil, err
	}
	toTree, err := s.tree(toSHA)
	if err != nil {
		return nil, err
	}
	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	var files []string
	for _, change := range changes {
		if change.To.Name == "" {
			continue
		}
		if s.isPolicyFile(change.To.Name) {
			files = append(files, change.To.Name)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (s *GitSource) tree(sha string) (*object.Tree, error) {
	commit, err := s.repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", short(sha), err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree for %s: %w", short(sha), err)
	}
	return tree, nil
}

func (s *GitSource) isPolicyFile(rel string) bool {
	if s.cfg.Path != "" && !strings.HasPrefix(rel, s.cfg.Path+"/") {
		return false
	}
	if strings.HasPrefix(path.Base(rel), ".") {
		return false
	}
	return s.extensions[strings.ToLower(path.Ext(rel))]
}

func (s *GitSource) readChanges(files []string) ([]policy.PolicyChange, error) {
	commit, err := s.repo.CommitObject(plumbing.NewHash(s.head))
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	info := commitInfo(commit)

	var errs []error
	changes := make([]policy.PolicyChange, 0, len(files))
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(s.cfg.LocalPath, filepath.FromSlash(rel)))
		if err != nil {
			s.logger.Warn("skipping unreadable policy file", "path", rel, "error", err)
			errs = append(errs, fmt.Errorf("failed to read %s: %w", rel, err))
			continue
		}
		id := rel
		if s.cfg.Path != "" {
			id = strings.TrimPrefix(id, s.cfg.Path+"/")
		}
		ext := path.Ext(id)
		changes = append(changes, policy.PolicyChange{
			PolicyID: strings.TrimSuffix(id, ext),
			RawText:  string(data),
			Source:   "git:" + short(info.SHA),
			Metadata: map[string]any{
				"path":   rel,
				"format": formatFor(ext),
				"commit": info.SHA,
				"author": info.Author,
			},
		})
	}
	return changes, errors.Join(errs...)
}

func commitInfo(c *object.Commit) *CommitInfo {
	return &CommitInfo{
		SHA:       c.Hash.String(),
		Author:    c.Author.Name,
		Email:     c.Author.Email,
		Timestamp: c.Author.When,
		Message:   c.Message,
	}
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
