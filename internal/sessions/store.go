// Package sessions implements the Session & Transcript Store (SPEC_FULL.md
// C5): session lifecycle, the append-only JSONL transcript, context-seed
// rehydration, daily markdown notes, and project/branch git operations.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocotilloai/kestrel/internal/models"
)

// ErrSessionNotFound is returned by Get/Delete for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Store owns every Session record and its event log for the life of the
// process. Access to the registry map is guarded by a single coarse mutex;
// per-session transcript writes are additionally serialized by that
// session's own write lock (writeLock), matching the teacher's
// fine-vs-coarse locking split described in SPEC_FULL.md §5.
type Store struct {
	workspaceRoot string

	mu       sync.RWMutex
	sessions map[string]*entry

	index *registryIndex
}

type entry struct {
	session   *models.Session
	writeLock sync.Mutex
	alive     bool
}

// New constructs a Store rooted at workspaceRoot. It opens (or creates) the
// SQLite session-registry index described in SPEC_FULL.md §4.5.
func New(workspaceRoot string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(workspaceRoot, ".kestrel"), 0o755); err != nil {
		return nil, fmt.Errorf("sessions: create workspace root: %w", err)
	}
	idx, err := openRegistryIndex(filepath.Join(workspaceRoot, ".kestrel", "sessions.db"))
	if err != nil {
		return nil, fmt.Errorf("sessions: open registry index: %w", err)
	}
	return &Store{
		workspaceRoot: workspaceRoot,
		sessions:      make(map[string]*entry),
		index:         idx,
	}, nil
}

// CreateOptions selects one of the three creation modes described in
// SPEC_FULL.md §4.5.
type CreateOptions struct {
	// CWD, if set, attaches to an explicit existing directory with no git
	// operations (mode c).
	CWD string
	// CopyFromPath, if set, clones that path as the branch source (mode b).
	CopyFromPath string
	// Name, if set, overrides the generated adjective-noun project name.
	Name string
}

// Create allocates a new Session, choosing a creation mode from opts, and
// seeds its context from an existing transcript if one is found. It records
// no transcript event itself.
func (s *Store) Create(ctx context.Context, opts CreateOptions) (*models.Session, error) {
	id := uuid.NewString()

	var sess *models.Session
	var err error
	switch {
	case opts.CWD != "":
		sess, err = s.attachExisting(id, opts)
	case opts.CopyFromPath != "":
		sess, err = s.createFromClone(id, opts)
	default:
		sess, err = s.createNewProject(id, opts)
	}
	if err != nil {
		return nil, err
	}

	if existing, ok := s.tryRehydrate(sess); ok {
		sess.LastUserMessage = existing.lastUser
		sess.LastPlanText = existing.lastPlan
		sess.History = existing.history
		sess.WelcomeSent = true
	}

	s.mu.Lock()
	s.sessions[id] = &entry{session: sess, alive: true}
	s.mu.Unlock()

	s.index.upsert(sess.ID, sess.ProjectRoot, sess.Branch, sess.CWD, time.Now())

	return sess, nil
}

func (s *Store) attachExisting(id string, opts CreateOptions) (*models.Session, error) {
	name := opts.Name
	if name == "" {
		name = filepath.Base(opts.CWD)
	}
	return &models.Session{
		ID:      id,
		Name:    name,
		CWD:     opts.CWD,
		LogPath: filepath.Join(s.workspaceRoot, ".kestrel", "attached", id+".jsonl"),
	}, nil
}

func (s *Store) createNewProject(id string, opts CreateOptions) (*models.Session, error) {
	project := opts.Name
	if project == "" {
		project = generateProjectName()
	}
	branch := "main"
	cwd := filepath.Join(s.workspaceRoot, project, branch)
	if err := os.MkdirAll(cwd, 0o755); err != nil {
		return nil, fmt.Errorf("sessions: create project dir: %w", err)
	}
	if err := runGit(cwd, "init"); err != nil {
		return nil, fmt.Errorf("sessions: git init: %w", err)
	}
	_ = os.WriteFile(filepath.Join(cwd, "README.md"), []byte(fmt.Sprintf("# %s\n", project)), 0o644)
	if err := runGit(cwd, "add", "."); err != nil {
		return nil, fmt.Errorf("sessions: git add: %w", err)
	}
	if err := runGit(cwd, "commit", "-m", "initial commit"); err != nil {
		return nil, fmt.Errorf("sessions: git commit: %w", err)
	}

	return &models.Session{
		ID:          id,
		Name:        project,
		CWD:         cwd,
		ProjectRoot: filepath.Join(s.workspaceRoot, project),
		Branch:      branch,
		LogPath:     s.transcriptPath(project, branch),
	}, nil
}

func (s *Store) createFromClone(id string, opts CreateOptions) (*models.Session, error) {
	project := opts.Name
	if project == "" {
		project = generateProjectName()
	}
	branch := "branch-" + id[:8]
	projectRoot := filepath.Join(s.workspaceRoot, project)
	cwd := filepath.Join(projectRoot, branch)

	if err := runGit(s.workspaceRoot, "clone", opts.CopyFromPath, cwd); err != nil {
		return nil, fmt.Errorf("sessions: git clone: %w", err)
	}
	if err := runGit(cwd, "checkout", "-b", branch); err != nil {
		return nil, fmt.Errorf("sessions: git checkout -b: %w", err)
	}

	return &models.Session{
		ID:          id,
		Name:        project,
		CWD:         cwd,
		ProjectRoot: projectRoot,
		Branch:      branch,
		LogPath:     s.transcriptPath(project, branch),
	}, nil
}

func (s *Store) transcriptPath(project, branch string) string {
	return filepath.Join(s.workspaceRoot, project, ".kestrel", branch+".jsonl")
}

// Get returns the live session for id.
func (s *Store) Get(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok || !e.alive {
		return nil, ErrSessionNotFound
	}
	return e.session, nil
}

// List returns every session in the registry. Delete removes a session
// from the registry, so only live sessions are returned.
func (s *Store) List() []*models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, e := range s.sessions {
		out = append(out, e.session)
	}
	return out
}

// Rename updates a session's display name.
func (s *Store) Rename(id, name string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.Lock()
	sess.Name = name
	sess.Unlock()
	return nil
}

// Delete marks a session dead, cancels any in-flight request bound to it,
// and removes it from the registry (SPEC_FULL.md §5, Cancellation). The
// transcript file and project directory are left on disk.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if ok {
		e.alive = false
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	e.session.CancelInFlight()
	s.index.markDead(id)
	return nil
}

// writeLockFor returns the per-session mutex used to serialize transcript
// appends, per SPEC_FULL.md §5's "per-session write serializer".
func (s *Store) writeLockFor(id string) *sync.Mutex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok {
		return &sync.Mutex{}
	}
	return &e.writeLock
}

// ListProjectBranches returns every branch of projectRoot known to the
// registry index, live or not — used to list branches that have no
// currently connected session.
func (s *Store) ListProjectBranches(projectRoot string) ([]registryEntry, error) {
	return s.index.listByProject(projectRoot)
}

// Close releases the registry index's database handle. It does not close
// or flush any live session's transcript file, since writes are
// append-and-close per call.
func (s *Store) Close() error {
	return s.index.close()
}

func generateProjectName() string {
	adjectives := []string{"swift", "quiet", "amber", "brisk", "lucid", "rustic", "vivid", "nimble"}
	nouns := []string{"falcon", "harbor", "cinder", "thicket", "lantern", "meadow", "quarry", "ridge"}
	return adjectives[rand.Intn(len(adjectives))] + "-" + nouns[rand.Intn(len(nouns))] //nolint:gosec // cosmetic name, not security sensitive
}

func runGit(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return cmd.Run()
}
