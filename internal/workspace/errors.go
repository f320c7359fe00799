package workspace

import "errors"

var (
	// ErrRepoNotGit indicates the configured repository path is not a git checkout.
	ErrRepoNotGit = errors.New("repository is not a git repository")

	// ErrInvalidBaseBranch indicates the configured base branch does not exist.
	ErrInvalidBaseBranch = errors.New("base branch does not exist")

	// ErrWorkspaceMissing indicates a workspace directory no longer exists on disk.
	ErrWorkspaceMissing = errors.New("workspace does not exist")

	// ErrMergeConflict indicates a merge into the base branch hit conflicts.
	// The merge is aborted before this is returned; the workspace is untouched.
	ErrMergeConflict = errors.New("merge conflict")

	// ErrGitCommandFailed wraps git command failures with their output.
	ErrGitCommandFailed = errors.New("git command failed")
)
