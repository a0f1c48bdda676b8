package sessions

import (
	"fmt"
	"os"
	"path/filepath"
)

// CreateBranch makes a new branch directory for an existing project by
// cloning the project's main branch and checking out a fresh branch name,
// mirroring the "clone" creation mode used for brand-new sessions.
func (s *Store) CreateBranch(projectRoot, branchName string) (string, error) {
	main := filepath.Join(projectRoot, "main")
	dest := filepath.Join(projectRoot, branchName)
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("sessions: branch %q already exists", branchName)
	}
	if err := runGit(projectRoot, "clone", main, dest); err != nil {
		return "", fmt.Errorf("sessions: clone main into branch: %w", err)
	}
	if err := runGit(dest, "checkout", "-b", branchName); err != nil {
		return "", fmt.Errorf("sessions: checkout -b: %w", err)
	}
	return dest, nil
}

// DeleteBranch removes a branch's working directory. It refuses to delete
// "main", since that is the project's canonical branch.
func (s *Store) DeleteBranch(projectRoot, branchName string) error {
	if branchName == "main" {
		return fmt.Errorf("sessions: refusing to delete the main branch")
	}
	dir := filepath.Join(projectRoot, branchName)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("sessions: delete branch dir: %w", err)
	}
	return nil
}

// DeleteProject removes an entire project, including every branch and its
// transcripts.
func (s *Store) DeleteProject(projectRoot string) error {
	if err := os.RemoveAll(projectRoot); err != nil {
		return fmt.Errorf("sessions: delete project dir: %w", err)
	}
	return nil
}

// MergeBranchIntoMain merges branchName into main within a project. Since
// every branch is its own independent clone rather than a ref inside main's
// repository, branchName is not something main's git can name directly; a
// transient remote is added pointing at the branch's directory, fetched,
// merged as FETCH_HEAD, and removed again whether or not the merge
// succeeds.
func (s *Store) MergeBranchIntoMain(projectRoot, branchName string) error {
	main := filepath.Join(projectRoot, "main")
	branchDir := filepath.Join(projectRoot, branchName)
	remoteName := "kestrel_" + branchName

	_ = runGit(main, "remote", "remove", remoteName)
	defer runGit(main, "remote", "remove", remoteName)

	if err := runGit(main, "remote", "add", remoteName, branchDir); err != nil {
		return fmt.Errorf("sessions: add remote for branch %s: %w", branchName, err)
	}
	if err := runGit(main, "fetch", remoteName, branchName); err != nil {
		return fmt.Errorf("sessions: fetch branch %s: %w", branchName, err)
	}
	if err := runGit(main, "merge", "--no-edit", "FETCH_HEAD"); err != nil {
		return fmt.Errorf("sessions: merge %s into main: %w", branchName, err)
	}
	return nil
}

// SyncBranchFromMain rebases a branch's working directory onto the
// project's current main branch, pulling in upstream progress without
// discarding the branch's own commits.
func (s *Store) SyncBranchFromMain(projectRoot, branchName string) error {
	dir := filepath.Join(projectRoot, branchName)
	mainRef := filepath.Join(projectRoot, "main")
	if err := runGit(dir, "fetch", mainRef, "main"); err != nil {
		return fmt.Errorf("sessions: fetch main: %w", err)
	}
	if err := runGit(dir, "rebase", "FETCH_HEAD"); err != nil {
		return fmt.Errorf("sessions: rebase onto main: %w", err)
	}
	return nil
}
