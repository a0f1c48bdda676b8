package sessions

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// registryIndex is a secondary, queryable index over sessions: project,
// branch, and working directory, plus last-seen and liveness. The
// transcript JSONL files remain the source of truth for event history;
// this index exists purely to answer "which sessions exist" and "when was
// this branch last touched" without scanning the filesystem tree,
// per SPEC_FULL.md §4.5.
type registryIndex struct {
	mu sync.Mutex
	db *sql.DB
}

func openRegistryIndex(path string) (*registryIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sessions: open sqlite index: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	project_root TEXT NOT NULL,
	branch      TEXT NOT NULL,
	cwd         TEXT NOT NULL,
	last_seen   TEXT NOT NULL,
	alive       INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_root);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessions: migrate sqlite index: %w", err)
	}
	return &registryIndex{db: db}, nil
}

func (r *registryIndex) upsert(id, projectRoot, branch, cwd string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.db.Exec(`
INSERT INTO sessions (id, project_root, branch, cwd, last_seen, alive)
VALUES (?, ?, ?, ?, ?, 1)
ON CONFLICT(id) DO UPDATE SET project_root=excluded.project_root, branch=excluded.branch,
	cwd=excluded.cwd, last_seen=excluded.last_seen, alive=1
`, id, projectRoot, branch, cwd, at.UTC().Format(time.RFC3339))
}

func (r *registryIndex) markDead(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.db.Exec(`UPDATE sessions SET alive = 0 WHERE id = ?`, id)
}

// registryEntry is a row of the session-registry index, returned by
// listByProject (via Store.ListProjectBranches) for cross-session/cross-branch lookups that don't require
// the full in-memory Session (e.g. listing branches of a project that has
// no currently live connection).
type registryEntry struct {
	ID          string
	ProjectRoot string
	Branch      string
	CWD         string
	LastSeen    time.Time
	Alive       bool
}

func (r *registryIndex) listByProject(projectRoot string) ([]registryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.db.Query(`SELECT id, project_root, branch, cwd, last_seen, alive FROM sessions WHERE project_root = ? ORDER BY last_seen DESC`, projectRoot)
	if err != nil {
		return nil, fmt.Errorf("sessions: query registry index: %w", err)
	}
	defer rows.Close()

	var out []registryEntry
	for rows.Next() {
		var e registryEntry
		var lastSeen string
		var alive int
		if err := rows.Scan(&e.ID, &e.ProjectRoot, &e.Branch, &e.CWD, &lastSeen, &alive); err != nil {
			return nil, fmt.Errorf("sessions: scan registry row: %w", err)
		}
		e.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
		e.Alive = alive != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *registryIndex) close() error {
	return r.db.Close()
}
