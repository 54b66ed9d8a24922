package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

var tokenSeq atomic.Uint64

// Token is a cooperative cancellation handle for one streaming operation.
// Canceling a token stops the reader that owns it from dispatching any
// further events.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
	id     uint64
}

// NewToken derives a cancelable token from parent.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel, id: tokenSeq.Add(1)}
}

// Context returns the context that is canceled together with the token.
func (t *Token) Context() context.Context { return t.ctx }

// Cancel signals the token. It is safe to call more than once.
func (t *Token) Cancel() { t.cancel() }

// Canceled reports whether the token has been signaled.
func (t *Token) Canceled() bool { return t.ctx.Err() != nil }

// ID returns a process-unique identifier, useful in logs.
func (t *Token) ID() uint64 { return t.id }

// Slot holds at most one live Token. Replacing the token cancels the
// previous one, so a newer operation always supersedes an older one.
type Slot struct {
	mu  sync.Mutex
	cur *Token
}

// Replace cancels the current token, if any, and installs a fresh one
// derived from parent.
func (s *Slot) Replace(parent context.Context) *Token {
	tok := NewToken(parent)
	s.mu.Lock()
	prev := s.cur
	s.cur = tok
	s.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}
	return tok
}

// Current returns the live token or nil.
func (s *Slot) Current() *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Owns reports whether t is the slot's live token.
func (s *Slot) Owns(t *Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t != nil && s.cur == t
}

// Release clears the slot if t is still its live token. The token itself
// is canceled so that its context resources are freed.
func (s *Slot) Release(t *Token) bool {
	s.mu.Lock()
	owned := t != nil && s.cur == t
	if owned {
		s.cur = nil
	}
	s.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
	return owned
}

// Cancel signals and clears the live token. It returns the canceled token,
// or nil when the slot was empty.
func (s *Slot) Cancel() *Token {
	s.mu.Lock()
	tok := s.cur
	s.cur = nil
	s.mu.Unlock()
	if tok != nil {
		tok.Cancel()
	}
	return tok
}
