package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donna-assistant/donna/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

// setupRepo creates a git repository with one commit on main.
func setupRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	runGit(t, repo, "init", "-b", "main")
	runGit(t, repo, "config", "user.email", "test@example.com")
	runGit(t, repo, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("hello\n"), 0644))
	runGit(t, repo, "add", ".")
	runGit(t, repo, "commit", "-m", "initial commit")
	return repo
}

func newTestManager(t *testing.T, repo string) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		RepoPath:     repo,
		BasePath:     t.TempDir(),
		BaseBranch:   "main",
		BranchPrefix: "donna/",
	}, newTestLogger())
	require.NoError(t, err)
	return m
}

func TestCreateWorkspace(t *testing.T) {
	repo := setupRepo(t)
	m := newTestManager(t, repo)
	ctx := context.Background()

	ws, err := m.Create(ctx, "s1", "donna/fix-bug")
	require.NoError(t, err)
	assert.Equal(t, "s1", ws.SessionID)
	assert.Equal(t, "donna/fix-bug", ws.Branch)
	assert.True(t, m.Exists(ws.Path))

	// The checkout carries the base branch content
	_, err = os.Stat(filepath.Join(ws.Path, "README.md"))
	assert.NoError(t, err)
}

func TestCreateGeneratesBranchName(t *testing.T) {
	repo := setupRepo(t)
	m := newTestManager(t, repo)

	ws, err := m.Create(context.Background(), "s1", "")
	require.NoError(t, err)
	assert.Contains(t, ws.Branch, "donna/")
}

func TestCreateBranchCollision(t *testing.T) {
	repo := setupRepo(t)
	m := newTestManager(t, repo)
	ctx := context.Background()

	_, err := m.Create(ctx, "s1", "donna/same")
	require.NoError(t, err)

	_, err = m.Create(ctx, "s2", "donna/same")
	assert.ErrorIs(t, err, ErrGitCommandFailed)
}

func TestExistsRejectsPlainDirectory(t *testing.T) {
	repo := setupRepo(t)
	m := newTestManager(t, repo)

	plain := t.TempDir()
	assert.False(t, m.Exists(plain))
	assert.False(t, m.Exists(filepath.Join(plain, "missing")))
}

func TestCleanupRemovesCheckoutAndBranch(t *testing.T) {
	repo := setupRepo(t)
	m := newTestManager(t, repo)
	ctx := context.Background()

	ws, err := m.Create(ctx, "s1", "donna/cleanup-me")
	require.NoError(t, err)

	require.NoError(t, m.Cleanup(ctx, ws.Path, ws.Branch))
	assert.False(t, m.Exists(ws.Path))

	// Branch is gone, so the same name can be reused
	_, err = m.Create(ctx, "s2", "donna/cleanup-me")
	assert.NoError(t, err)
}

func TestCleanupIsBestEffort(t *testing.T) {
	repo := setupRepo(t)
	m := newTestManager(t, repo)
	ctx := context.Background()

	// Neither path nor branch exist; cleanup reports an advisory error but
	// does not panic or abort midway.
	err := m.Cleanup(ctx, filepath.Join(t.TempDir(), "gone"), "donna/never-existed")
	assert.Error(t, err)
}

func TestMergeFastPath(t *testing.T) {
	repo := setupRepo(t)
	m := newTestManager(t, repo)
	ctx := context.Background()

	ws, err := m.Create(ctx, "s1", "donna/feature")
	require.NoError(t, err)

	// Simulate agent work, left uncommitted: merge must pick it up.
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "feature.go"), []byte("package feature\n"), 0644))

	require.NoError(t, m.Merge(ctx, ws.Path, ws.Branch))

	// The merge landed on main in the primary checkout
	_, err = os.Stat(filepath.Join(repo, "feature.go"))
	assert.NoError(t, err)
}

func TestMergeConflict(t *testing.T) {
	repo := setupRepo(t)
	m := newTestManager(t, repo)
	ctx := context.Background()

	ws, err := m.Create(ctx, "s1", "donna/conflicting")
	require.NoError(t, err)

	// Diverge: both sides edit README.md
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "README.md"), []byte("session version\n"), 0644))
	runGit(t, ws.Path, "add", ".")
	runGit(t, ws.Path, "commit", "-m", "session edit")

	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("main version\n"), 0644))
	runGit(t, repo, "add", ".")
	runGit(t, repo, "commit", "-m", "main edit")

	err = m.Merge(ctx, ws.Path, ws.Branch)
	require.ErrorIs(t, err, ErrMergeConflict)

	// The abort left main clean and the workspace intact for inspection
	status := runGit(t, repo, "status", "--porcelain")
	assert.Empty(t, status)
	assert.True(t, m.Exists(ws.Path))
}

func TestMergeMissingWorkspace(t *testing.T) {
	repo := setupRepo(t)
	m := newTestManager(t, repo)

	err := m.Merge(context.Background(), filepath.Join(t.TempDir(), "gone"), "donna/x")
	assert.ErrorIs(t, err, ErrWorkspaceMissing)
}

func TestStatsAndChangedFiles(t *testing.T) {
	repo := setupRepo(t)
	m := newTestManager(t, repo)
	ctx := context.Background()

	ws, err := m.Create(ctx, "s1", "donna/stats")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "a.go"), []byte("package a\n\nvar A = 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "b.go"), []byte("package b\n"), 0644))
	runGit(t, ws.Path, "add", ".")
	runGit(t, ws.Path, "commit", "-m", "add files")

	stats, err := m.Stats(ctx, ws.Path)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesChanged)
	assert.Equal(t, 4, stats.Additions)
	assert.Equal(t, 0, stats.Deletions)

	files, err := m.ChangedFiles(ctx, ws.Path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, files)

	log, err := m.Log(ctx, ws.Path)
	require.NoError(t, err)
	assert.Contains(t, log, "add files")
}

func TestGenerateBranchName(t *testing.T) {
	repo := setupRepo(t)
	m := newTestManager(t, repo)

	name := m.GenerateBranchName("Fix the Login Bug!")
	assert.Contains(t, name, "donna/fix-the-login-bug")

	// Uniqueness comes from the random suffix
	assert.NotEqual(t, name, m.GenerateBranchName("Fix the Login Bug!"))

	// Unusable hints fall back to a generic slug
	assert.Contains(t, m.GenerateBranchName("!!!"), "donna/session-")
}
