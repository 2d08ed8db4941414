package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store maps sessionId to ChatSession with thread-safe access. GetOrCreate
// is atomic per session id; mutating a single session (AppendTurn,
// trimHistory) is serialized by that session's own lock, since the
// orchestrator performs both together at the end of a turn.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*lockedSession
}

type lockedSession struct {
	mu   sync.Mutex
	data ChatSession
}

// NewStore constructs an empty Session Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*lockedSession)}
}

// GetOrCreate returns the session for sessionId, creating one with a
// server-chosen opaque id when sessionId is empty or unknown.
func (s *Store) GetOrCreate(sessionID, userID string) ChatSession {
	now := time.Now().UTC()

	if sessionID != "" {
		s.mu.RLock()
		ls, ok := s.sessions[sessionID]
		s.mu.RUnlock()
		if ok {
			ls.mu.Lock()
			defer ls.mu.Unlock()
			return ls.data
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != "" {
		if ls, ok := s.sessions[sessionID]; ok {
			ls.mu.Lock()
			defer ls.mu.Unlock()
			return ls.data
		}
	}
	id := uuid.NewString()
	ls := &lockedSession{data: ChatSession{
		ID:             id,
		UserID:         userID,
		Name:           "New Chat",
		CreatedAt:      now,
		LastActivityAt: now,
	}}
	s.sessions[id] = ls
	return ls.data
}

// GetSession returns the session for id and whether it exists.
func (s *Store) GetSession(id string) (ChatSession, bool) {
	s.mu.RLock()
	ls, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return ChatSession{}, false
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.data, true
}

// ListSessions returns a snapshot of all known sessions, most recently
// active first.
func (s *Store) ListSessions() []ChatSession {
	s.mu.RLock()
	locked := make([]*lockedSession, 0, len(s.sessions))
	for _, ls := range s.sessions {
		locked = append(locked, ls)
	}
	s.mu.RUnlock()

	out := make([]ChatSession, 0, len(locked))
	for _, ls := range locked {
		ls.mu.Lock()
		out = append(out, ls.data)
		ls.mu.Unlock()
	}
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].LastActivityAt.Before(out[j].LastActivityAt) {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

// AppendTurn appends the user and assistant messages of a completed turn
// and trims history to maxMessages, removing the oldest user/assistant
// pair together so alternation is preserved. Called only after a
// successful final-answer phase; partial or failed turns never mutate
// the session.
func (s *Store) AppendTurn(sessionID string, userMsg, assistantMsg ChatMessage, maxMessages int) ChatSession {
	s.mu.RLock()
	ls, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return ChatSession{}
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.data.Messages = append(ls.data.Messages, userMsg, assistantMsg)
	trimHistoryLocked(&ls.data, maxMessages)
	ls.data.LastActivityAt = time.Now().UTC()
	ls.data.LastMessagePreview = snippetForPreview(assistantMsg.Content)
	return ls.data
}

// TrimHistory removes oldest entries from sessionID's history until its
// length is <= maxMessages. Idempotent: calling it twice in a row with the
// same maxMessages is equivalent to once.
func (s *Store) TrimHistory(sessionID string, maxMessages int) {
	s.mu.RLock()
	ls, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	trimHistoryLocked(&ls.data, maxMessages)
}

// trimHistoryLocked drops the oldest user/assistant pair at a time so an
// odd trailing system message never gets stranded without its pair.
func trimHistoryLocked(sess *ChatSession, maxMessages int) {
	if maxMessages <= 0 {
		return
	}
	for len(sess.Messages) > maxMessages {
		drop := 2
		if len(sess.Messages) < drop {
			drop = len(sess.Messages)
		}
		sess.Messages = sess.Messages[drop:]
	}
}

// EvictIdle removes sessions whose LastActivityAt is older than maxIdle,
// returning the number evicted. Intended to be called periodically by the
// caller on a ticker; the Store itself does not schedule this.
func (s *Store) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, ls := range s.sessions {
		ls.mu.Lock()
		stale := ls.data.LastActivityAt.Before(cutoff)
		ls.mu.Unlock()
		if stale {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}
