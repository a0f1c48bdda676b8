package sessions

import (
	"github.com/ocotilloai/kestrel/internal/models"
)

// rehydrated is the minimal context-seed recovered from an existing
// transcript: the last user message, the last plan text, and up to six
// trailing user/assistant turns to prime history.
type rehydrated struct {
	lastUser string
	lastPlan string
	history  []models.HistoryTurn
}

// tryRehydrate reconstructs context seed from a session's transcript file
// if one already exists on disk (reattach to an existing branch/project).
// This is what lets a session resume mid-conversation instead of starting
// cold every time a connection is re-established.
func (s *Store) tryRehydrate(sess *models.Session) (rehydrated, bool) {
	events, err := readTranscript(sess.LogPath)
	if err != nil || len(events) == 0 {
		return rehydrated{}, false
	}

	var out rehydrated
	for _, ev := range events {
		switch ev.Type {
		case models.EventUserIntent, models.EventUser:
			out.lastUser = ev.Body
		case models.EventPlan:
			out.lastPlan = ev.Body
		}
	}

	var turns []models.HistoryTurn
	for _, ev := range events {
		if ev.Role != models.RoleUser && ev.Role != models.RoleAssistant {
			continue
		}
		turns = append(turns, models.HistoryTurn{Role: ev.Role, Content: ev.Body})
	}
	start := 0
	if len(turns) > 6 {
		start = len(turns) - 6
	}
	out.history = turns[start:]

	return out, true
}
