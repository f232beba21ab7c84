// Package git keeps provisioned directories out of the Git work tree they
// are created in.
package git

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
)

// Common Git errors
var (
	ErrNotAGitRepo = errors.New("not a git repository")
	ErrBareRepo    = errors.New("bare git repository has no work tree")
)

// WorkTreeRoot returns the root of the Git work tree that contains dir,
// searching parent directories the way git itself does.
func WorkTreeRoot(ctx context.Context, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return "", ErrNotAGitRepo
		}
		return "", fmt.Errorf("open repository: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		if errors.Is(err, gogit.ErrIsBareRepository) {
			return "", ErrBareRepo
		}
		return "", fmt.Errorf("get worktree: %w", err)
	}
	return worktree.Filesystem.Root(), nil
}
