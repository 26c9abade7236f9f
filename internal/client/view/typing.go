package view

import (
	"sort"
	"time"

	"github.com/anonto42/proofing/backend/internal/models"
)

// SendTyping announces whether the local actor is typing. Repeated true
// calls only push the auto-clear deadline back; after TypingTimeout without
// a refresh the indicator is cleared for peers.
func (v *ProjectView) SendTyping(isTyping bool) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	if v.selfTimer != nil {
		v.selfTimer.Stop()
		v.selfTimer = nil
	}
	announce := v.selfTyping != isTyping
	v.selfTyping = isTyping
	if isTyping {
		var t *time.Timer
		t = time.AfterFunc(v.opts.TypingTimeout, func() { v.selfTypingExpired(t) })
		v.selfTimer = t
	}
	v.mu.Unlock()

	if announce {
		v.emitTyping(isTyping)
	}
}

func (v *ProjectView) selfTypingExpired(t *time.Timer) {
	v.mu.Lock()
	if v.selfTimer != t || v.closed {
		v.mu.Unlock()
		return
	}
	v.selfTimer = nil
	v.selfTyping = false
	v.mu.Unlock()

	v.emitTyping(false)
}

func (v *ProjectView) emitTyping(isTyping bool) {
	v.bus.Emit(models.EventTyping, models.TypingMessage{
		ProjectID: v.projectID,
		User:      v.actor.Name,
		IsTyping:  isTyping,
	})
}

// peerTyping records a peer's indicator. A set indicator expires on its own
// unless the peer refreshes it.
func (v *ProjectView) peerTyping(user string, isTyping bool) bool {
	if user == "" || user == v.actor.Name {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}

	prev, was := v.typing[user]
	if was {
		prev.Stop()
		delete(v.typing, user)
	}
	if !isTyping {
		return was
	}

	var t *time.Timer
	t = time.AfterFunc(v.opts.TypingTimeout, func() { v.peerTypingExpired(user, t) })
	v.typing[user] = t
	return !was
}

func (v *ProjectView) peerTypingExpired(user string, t *time.Timer) {
	v.mu.Lock()
	if v.typing[user] != t {
		v.mu.Unlock()
		return
	}
	delete(v.typing, user)
	v.mu.Unlock()

	v.changed(models.EventTyping)
}

// Typing lists the peers currently typing
func (v *ProjectView) Typing() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	users := make([]string, 0, len(v.typing))
	for user := range v.typing {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

func (v *ProjectView) unsubscribe() {
	for _, cancel := range v.cancels {
		cancel()
	}
	v.cancels = nil
}

// Close stops listening, clears timers and leaves the project room
func (v *ProjectView) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.closed = true
	wasTyping := v.selfTyping
	v.selfTyping = false
	if v.selfTimer != nil {
		v.selfTimer.Stop()
		v.selfTimer = nil
	}
	for user, t := range v.typing {
		t.Stop()
		delete(v.typing, user)
	}
	v.mu.Unlock()

	v.unsubscribe()
	if wasTyping {
		v.emitTyping(false)
	}
	return v.bus.LeaveRoom(models.ProjectRoom(v.projectID))
}
