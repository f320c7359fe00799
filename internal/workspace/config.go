package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds Git workspace configuration.
type Config struct {
	RepoPath     string // Main repository checkout that sessions fork from
	BasePath     string // Base directory for per-session checkouts
	BaseBranch   string // Branch sessions branch from and merge into
	BranchPrefix string // Prefix applied to generated branch names
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.RepoPath == "" {
		return fmt.Errorf("workspace repoPath is required")
	}
	if c.BasePath == "" {
		return fmt.Errorf("workspace basePath is required")
	}
	if c.BaseBranch == "" {
		return fmt.Errorf("workspace baseBranch is required")
	}
	return nil
}

// ExpandedBasePath returns the base path with ~ expanded to the user's home directory.
func (c *Config) ExpandedBasePath() (string, error) {
	return expandPath(c.BasePath)
}

// WorkspacePath returns the full path for a workspace directory name.
func (c *Config) WorkspacePath(dirName string) (string, error) {
	base, err := c.ExpandedBasePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, dirName), nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
