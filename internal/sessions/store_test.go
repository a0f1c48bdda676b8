package sessions

import (
	"context"
	"os/exec"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available on PATH")
	}
}

func TestCreateAttachModeSkipsGit(t *testing.T) {
	store := newTestStore(t)
	cwd := t.TempDir()

	sess, err := store.Create(context.Background(), CreateOptions{CWD: cwd})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.CWD != cwd {
		t.Fatalf("expected attach mode to use the given cwd, got %q", sess.CWD)
	}
	if sess.ProjectRoot != "" || sess.Branch != "" {
		t.Fatalf("expected attach mode to leave project/branch unset, got %+v", sess)
	}

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != sess.ID {
		t.Fatalf("expected Get to return the created session")
	}
}

func TestCreateNewProjectInitializesGitRepo(t *testing.T) {
	requireGit(t)
	store := newTestStore(t)

	sess, err := store.Create(context.Background(), CreateOptions{Name: "widget-factory"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Branch != "main" {
		t.Fatalf("expected a new project's first session to be on main, got %q", sess.Branch)
	}
	if sess.ProjectRoot == "" {
		t.Fatalf("expected a project root to be set for a new project")
	}
}

func TestRenameUpdatesDisplayName(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Create(context.Background(), CreateOptions{CWD: t.TempDir()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Rename(sess.ID, "new-name"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "new-name" {
		t.Fatalf("expected renamed session, got %q", got.Name)
	}
}

func TestDeleteRemovesFromRegistryAndCancelsInFlight(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Create(context.Background(), CreateOptions{CWD: t.TempDir()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cancelled := false
	sess.SetCancel(func() { cancelled = true })

	if err := store.Delete(sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !cancelled {
		t.Fatalf("expected Delete to cancel the session's in-flight request")
	}
	if _, err := store.Get(sess.ID); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after Delete, got %v", err)
	}
}

func TestDeleteUnknownSessionReturnsErrSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	if err := store.Delete("does-not-exist"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestListReturnsAllTrackedSessions(t *testing.T) {
	store := newTestStore(t)
	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := store.Create(context.Background(), CreateOptions{CWD: t.TempDir()})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, sess.ID)
	}

	list := store.List()
	if len(list) != len(ids) {
		t.Fatalf("expected %d sessions, got %d", len(ids), len(list))
	}
}
