package main

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// ChatSessions keeps per-session conversation histories in memory.
// Sessions idle longer than ttl are dropped, and when more than maxSessions
// exist the least recently used one goes first.
type ChatSessions struct {
	mu          sync.Mutex
	sessions    map[string]*list.Element
	order       *list.List // front = most recently used
	ttl         time.Duration
	maxSessions int
	maxTurns    int
	now         func() time.Time
}

type chatSession struct {
	id       string
	turns    []Turn
	context  bool // turns[0] is the document context
	lastUsed time.Time
	busy     bool
}

func NewChatSessions(ttl time.Duration, maxSessions, maxTurns int) *ChatSessions {
	return &ChatSessions{
		sessions:    make(map[string]*list.Element),
		order:       list.New(),
		ttl:         ttl,
		maxSessions: maxSessions,
		maxTurns:    maxTurns,
		now:         time.Now,
	}
}

// Begin reserves the session for one exchange and returns the history to send:
// the stored turns, the document context if the session is new, and the user message.
// Callers must finish with Commit or Abort on the returned session. A session
// already in an exchange returns ok=false.
func (s *ChatSessions) Begin(id, message, originalText string) (sess *chatSession, turns []Turn, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()

	sess = s.getLocked(id)
	if sess == nil {
		sess = &chatSession{id: id}
		s.sessions[id] = s.order.PushFront(sess)
	} else if sess.busy {
		return nil, nil, false
	}
	sess.busy = true
	sess.lastUsed = s.now()
	s.evictLocked()

	if len(sess.turns) == 0 && isValidText(originalText) {
		sess.turns = append(sess.turns, Turn{Role: RoleUser, Text: originalText})
		sess.context = true
	}

	out := make([]Turn, 0, len(sess.turns)+1)
	out = append(out, sess.turns...)
	out = append(out, Turn{Role: RoleUser, Text: message})
	return sess, out, true
}

// Commit records the exchange started by Begin. It is dropped when the
// session was cleared or replaced in the meantime.
func (s *ChatSessions) Commit(sess *chatSession, message, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.liveLocked(sess) {
		return
	}
	sess.busy = false
	sess.lastUsed = s.now()
	s.order.MoveToFront(s.sessions[sess.id])
	sess.turns = append(sess.turns,
		Turn{Role: RoleUser, Text: message},
		Turn{Role: RoleModel, Text: reply})
	s.trimLocked(sess)
}

// Abort releases the session without recording the user message.
func (s *ChatSessions) Abort(sess *chatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.liveLocked(sess) {
		sess.busy = false
	}
}

// History returns a copy of the stored turns.
func (s *ChatSessions) History(id string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getLocked(id)
	if sess == nil {
		return nil
	}
	return append([]Turn(nil), sess.turns...)
}

// Clear forgets a session. Clearing an unknown session is a no-op.
func (s *ChatSessions) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.sessions[id]; ok {
		s.order.Remove(el)
		delete(s.sessions, id)
	}
}

func (s *ChatSessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *ChatSessions) getLocked(id string) *chatSession {
	el, ok := s.sessions[id]
	if !ok {
		return nil
	}
	s.order.MoveToFront(el)
	sess := el.Value.(*chatSession)
	sess.lastUsed = s.now()
	return sess
}

// liveLocked reports whether sess is still the session stored under its id.
func (s *ChatSessions) liveLocked(sess *chatSession) bool {
	if sess == nil {
		return false
	}
	el, ok := s.sessions[sess.id]
	return ok && el.Value.(*chatSession) == sess
}

func (s *ChatSessions) evictLocked() {
	now := s.now()
	for el := s.order.Back(); el != nil; {
		sess := el.Value.(*chatSession)
		prev := el.Prev()
		expired := s.ttl > 0 && now.Sub(sess.lastUsed) > s.ttl
		overflow := s.maxSessions > 0 && s.order.Len() > s.maxSessions
		if !sess.busy && (expired || overflow) {
			s.order.Remove(el)
			delete(s.sessions, sess.id)
		} else if !expired && !overflow {
			// Everything in front of this element was used more recently.
			break
		}
		el = prev
	}
}

// trimLocked drops the oldest exchanges beyond maxTurns, keeping the document context.
func (s *ChatSessions) trimLocked(sess *chatSession) {
	if s.maxTurns <= 0 || len(sess.turns) <= s.maxTurns {
		return
	}
	head := 0
	if sess.context {
		head = 1
	}
	drop := len(sess.turns) - s.maxTurns
	if rem := drop % 2; rem != 0 {
		drop++ // keep user/model pairs together
	}
	if head+drop > len(sess.turns) {
		drop = len(sess.turns) - head
	}
	kept := append([]Turn(nil), sess.turns[:head]...)
	sess.turns = append(kept, sess.turns[head+drop:]...)
}

// isValidText reports whether text has non-whitespace content.
func isValidText(text string) bool {
	return strings.TrimSpace(text) != ""
}
