package engine

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Token identifies one accepted write batch.
type Token = uuid.UUID

// Progress is the indexing state of one batch. Indexed records are
// searchable; Failed records were stored but could not be linked.
type Progress struct {
	Indexed int
	Failed  int
	Total   int
}

type tokenState struct {
	total   int64
	indexed atomic.Int64
	failed  atomic.Int64
}

// Tokens tracks the indexing progress of write batches.
type Tokens struct {
	mu     sync.RWMutex
	tokens map[Token]*tokenState
}

// NewTokens creates an empty tracker.
func NewTokens() *Tokens {
	return &Tokens{tokens: make(map[Token]*tokenState)}
}

// Issue registers a batch of total records and returns its token.
func (t *Tokens) Issue(total int) Token {
	tok := uuid.New()
	t.mu.Lock()
	t.tokens[tok] = &tokenState{total: int64(total)}
	t.mu.Unlock()
	return tok
}

func (t *Tokens) state(tok Token) (*tokenState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.tokens[tok]
	return p, ok
}

// Settle marks n records of tok as indexed. Unknown tokens are ignored.
func (t *Tokens) Settle(tok Token, n int) {
	if p, ok := t.state(tok); ok {
		p.indexed.Add(int64(n))
	}
}

// Fail marks n records of tok as failed. Unknown tokens are ignored.
func (t *Tokens) Fail(tok Token, n int) {
	if p, ok := t.state(tok); ok {
		p.failed.Add(int64(n))
	}
}

// Progress returns the indexing state of tok.
func (t *Tokens) Progress(tok Token) (Progress, error) {
	p, ok := t.state(tok)
	if !ok {
		return Progress{}, ErrUnknownToken
	}
	failed := min(p.failed.Load(), p.total)
	indexed := min(p.indexed.Load(), p.total-failed)
	return Progress{Indexed: int(indexed), Failed: int(failed), Total: int(p.total)}, nil
}

// Forget drops tok. It reports whether tok was known.
func (t *Tokens) Forget(tok Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tokens[tok]
	delete(t.tokens, tok)
	return ok
}

// Len returns the number of tracked tokens.
func (t *Tokens) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tokens)
}
