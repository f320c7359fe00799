// Package workspace manages isolated git checkouts for coding sessions.
// Each session gets a dedicated worktree plus branch, created exactly once
// and owned by the session until merge, reject, or cleanup.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/donna-assistant/donna/internal/common/logger"
)

// Workspace describes an isolated checkout + branch pair for one session.
type Workspace struct {
	SessionID string
	Path      string
	Branch    string
}

// DiffStats holds file change statistics collected at finalization.
type DiffStats struct {
	FilesChanged int `json:"files_changed"`
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
}

// Manager handles git worktree operations for concurrent agent sessions.
type Manager struct {
	config Config
	logger *logger.Logger

	// Serializes git commands that mutate the main repository. Worktree
	// add/remove and merges race against each other on the shared .git.
	repoMu sync.Mutex
}

// NewManager creates a new workspace manager and ensures the base directory exists.
func NewManager(cfg Config, log *logger.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = logger.Default()
	}

	basePath, err := cfg.ExpandedBasePath()
	if err != nil {
		return nil, fmt.Errorf("failed to expand base path: %w", err)
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace base directory: %w", err)
	}

	return &Manager{
		config: cfg,
		logger: log.WithFields(zap.String("component", "workspace-manager")),
	}, nil
}

// GenerateBranchName builds a branch name from the configured prefix, a
// sanitized hint, and a short random suffix for uniqueness.
func (m *Manager) GenerateBranchName(hint string) string {
	suffix := uuid.New().String()[:8]
	sanitized := sanitizeForBranch(hint, 24)
	if sanitized == "" {
		sanitized = "session"
	}
	return m.config.BranchPrefix + sanitized + "-" + suffix
}

// Create creates a new worktree and branch for a session.
// Fails if the branch already exists or checkout fails; on failure no partial
// workspace is left behind.
func (m *Manager) Create(ctx context.Context, sessionID, branchName string) (*Workspace, error) {
	if !m.isGitRepo(ctx, m.config.RepoPath) {
		return nil, ErrRepoNotGit
	}
	if !m.branchExists(ctx, m.config.BaseBranch) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBaseBranch, m.config.BaseBranch)
	}
	if branchName == "" {
		branchName = m.GenerateBranchName(sessionID)
	}

	dirName := sessionID + "_" + uuid.New().String()[:8]
	path, err := m.config.WorkspacePath(dirName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	m.repoMu.Lock()
	defer m.repoMu.Unlock()

	// git worktree add -b <branch> <path> <base-branch>
	output, err := m.git(ctx, m.config.RepoPath, "worktree", "add", "-b", branchName, path, m.config.BaseBranch)
	if err != nil {
		m.logger.Error("git worktree add failed",
			zap.String("session_id", sessionID),
			zap.String("branch", branchName),
			zap.String("output", output),
			zap.Error(err))
		// worktree add cleans up after itself on failure, but a half-created
		// directory can survive a hard kill
		_ = os.RemoveAll(path)
		return nil, fmt.Errorf("%w: %s", ErrGitCommandFailed, strings.TrimSpace(output))
	}

	m.logger.Info("created workspace",
		zap.String("session_id", sessionID),
		zap.String("path", path),
		zap.String("branch", branchName))

	return &Workspace{SessionID: sessionID, Path: path, Branch: branchName}, nil
}

// Exists checks whether a workspace directory is a valid worktree checkout.
func (m *Manager) Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}

	// Worktrees have a .git file (not directory) containing "gitdir: <path>"
	content, err := os.ReadFile(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return strings.HasPrefix(string(content), "gitdir:")
}

// Cleanup removes a workspace checkout and its branch. Best effort: each step
// failure is logged and the next step still runs. Callers treat the returned
// error as advisory and must never let it override a primary outcome.
func (m *Manager) Cleanup(ctx context.Context, path, branch string) error {
	m.repoMu.Lock()
	defer m.repoMu.Unlock()

	var firstErr error

	if output, err := m.git(ctx, m.config.RepoPath, "worktree", "remove", "--force", path); err != nil {
		m.logger.Warn("git worktree remove failed, falling back to rm",
			zap.String("path", path),
			zap.String("output", output),
			zap.Error(err))
		if rmErr := os.RemoveAll(path); rmErr != nil && firstErr == nil {
			firstErr = rmErr
		}
		// Drop the stale worktree registration after a manual rm
		if output, pruneErr := m.git(ctx, m.config.RepoPath, "worktree", "prune"); pruneErr != nil {
			m.logger.Warn("git worktree prune failed",
				zap.String("output", output),
				zap.Error(pruneErr))
		}
	}

	if branch != "" {
		if output, err := m.git(ctx, m.config.RepoPath, "branch", "-D", branch); err != nil {
			m.logger.Warn("failed to delete branch",
				zap.String("branch", branch),
				zap.String("output", output),
				zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s", ErrGitCommandFailed, strings.TrimSpace(output))
			}
		}
	}

	m.logger.Info("cleaned up workspace",
		zap.String("path", path),
		zap.String("branch", branch))

	return firstErr
}

// Merge merges a session branch into the base branch of the main repository.
// Any uncommitted work in the workspace is committed first. A conflict aborts
// the merge and returns ErrMergeConflict; the workspace is left intact so the
// user can inspect and retry.
func (m *Manager) Merge(ctx context.Context, path, branch string) error {
	if !m.Exists(path) {
		return fmt.Errorf("%w: %s", ErrWorkspaceMissing, path)
	}

	if err := m.commitPending(ctx, path); err != nil {
		return err
	}

	m.repoMu.Lock()
	defer m.repoMu.Unlock()

	if output, err := m.git(ctx, m.config.RepoPath, "checkout", m.config.BaseBranch); err != nil {
		return fmt.Errorf("%w: checkout %s: %s", ErrGitCommandFailed, m.config.BaseBranch, strings.TrimSpace(output))
	}

	output, err := m.git(ctx, m.config.RepoPath, "merge", "--no-ff", branch, "-m", fmt.Sprintf("Merge session branch %s", branch))
	if err != nil {
		// Abort so the main checkout is not left mid-merge
		if abortOut, abortErr := m.git(ctx, m.config.RepoPath, "merge", "--abort"); abortErr != nil {
			m.logger.Warn("merge abort failed",
				zap.String("output", abortOut),
				zap.Error(abortErr))
		}
		m.logger.Error("merge failed",
			zap.String("branch", branch),
			zap.String("output", output))
		return fmt.Errorf("%w: %s", ErrMergeConflict, strings.TrimSpace(output))
	}

	m.logger.Info("merged workspace branch",
		zap.String("branch", branch),
		zap.String("base", m.config.BaseBranch))

	return nil
}

// commitPending commits any uncommitted changes in the workspace so the merge
// picks up work the agent left in the working tree.
func (m *Manager) commitPending(ctx context.Context, path string) error {
	output, err := m.git(ctx, path, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("%w: %s", ErrGitCommandFailed, strings.TrimSpace(output))
	}
	if strings.TrimSpace(output) == "" {
		return nil
	}

	if output, err := m.git(ctx, path, "add", "-A"); err != nil {
		return fmt.Errorf("%w: %s", ErrGitCommandFailed, strings.TrimSpace(output))
	}
	if output, err := m.git(ctx, path, "commit", "-m", "Session work in progress"); err != nil {
		return fmt.Errorf("%w: %s", ErrGitCommandFailed, strings.TrimSpace(output))
	}
	return nil
}

// Stats returns diff statistics for the workspace relative to the base branch.
// Read-only; used only at finalization.
func (m *Manager) Stats(ctx context.Context, path string) (*DiffStats, error) {
	output, err := m.git(ctx, path, "diff", "--numstat", m.config.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGitCommandFailed, strings.TrimSpace(output))
	}

	stats := &DiffStats{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		stats.FilesChanged++
		// Binary files report "-" for both counts
		if add, err := parseCount(fields[0]); err == nil {
			stats.Additions += add
		}
		if del, err := parseCount(fields[1]); err == nil {
			stats.Deletions += del
		}
	}
	return stats, nil
}

// ChangedFiles returns the files the session changed relative to the base branch.
func (m *Manager) ChangedFiles(ctx context.Context, path string) ([]string, error) {
	output, err := m.git(ctx, path, "diff", "--name-only", m.config.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGitCommandFailed, strings.TrimSpace(output))
	}

	var files []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Log returns the one-line commit log of the session branch past the base branch.
func (m *Manager) Log(ctx context.Context, path string) (string, error) {
	output, err := m.git(ctx, path, "log", "--oneline", m.config.BaseBranch+"..HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrGitCommandFailed, strings.TrimSpace(output))
	}
	return strings.TrimSpace(output), nil
}

// git runs a git command in dir and returns its combined output.
func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	return string(output), err
}

func (m *Manager) isGitRepo(ctx context.Context, path string) bool {
	_, err := m.git(ctx, path, "rev-parse", "--git-dir")
	return err == nil
}

func (m *Manager) branchExists(ctx context.Context, branch string) bool {
	_, err := m.git(ctx, m.config.RepoPath, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

func parseCount(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// sanitizeForBranch converts free text into a git-branch-safe slug.
func sanitizeForBranch(text string, maxLen int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '/', r == '.':
			b.WriteRune('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if len(s) > maxLen {
		s = strings.Trim(s[:maxLen], "-")
	}
	return s
}
