package memory

import (
	"sync"

	"tutor-rag/internal/models"
)

// Store is the in-process rolling conversation window, one per student.
// It keeps the last maxPairs question/answer pairs, FIFO-evicted, with
// no persistence guarantee: a restart loses it. It only exists to give
// prompts a little short-term continuity.
//
// Appends are serialized by a single mutex so two near-simultaneous
// completions for the same student can't lose an update. Their relative
// order is whatever the lock hands out, which is tolerable.
type Store struct {
	mu       sync.Mutex
	turns    map[string][]models.ConversationTurn
	maxPairs int
}

func New(maxPairs int) *Store {
	if maxPairs <= 0 {
		maxPairs = 3
	}
	return &Store{
		turns:    make(map[string][]models.ConversationTurn),
		maxPairs: maxPairs,
	}
}

// Append records one completed exchange for the student.
func (s *Store) Append(studentID, query, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.turns[studentID],
		models.ConversationTurn{Role: models.RoleStudent, Content: query},
		models.ConversationTurn{Role: models.RoleAssistant, Content: response},
	)
	if max := s.maxPairs * 2; len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	s.turns[studentID] = turns
}

// History returns a copy of the student's current window.
func (s *Store) History(studentID string) []models.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.turns[studentID]
	if len(turns) == 0 {
		return nil
	}
	out := make([]models.ConversationTurn, len(turns))
	copy(out, turns)
	return out
}

// Clear drops the student's window, e.g. on logout.
func (s *Store) Clear(studentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, studentID)
}
