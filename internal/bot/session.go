package bot

import (
	"sync"

	"vpnshop/internal/models"
)

// step is the position of a user inside a multi-message conversation.
type step string

const (
	stepNone        step = ""
	stepReceipt     step = "receipt"
	stepAddVolume   step = "add_volume"
	stepAddDuration step = "add_duration"
	stepAddPrice    step = "add_price"
	stepAddLink     step = "add_link"
	stepRemoveID    step = "remove_id"
)

type session struct {
	step    step
	orderID string
	draft   models.Config
}

// sessions keeps conversation state in memory, keyed by user id.
// A restart drops half-finished conversations, which is harmless.
type sessions struct {
	mu   sync.Mutex
	byID map[int64]session
}

func newSessions() *sessions {
	return &sessions{byID: make(map[int64]session)}
}

func (s *sessions) get(userID int64) session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[userID]
}

func (s *sessions) set(userID int64, sess session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.step == stepNone {
		delete(s.byID, userID)
		return
	}
	s.byID[userID] = sess
}

func (s *sessions) reset(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[userID]
	delete(s.byID, userID)
	return ok
}
