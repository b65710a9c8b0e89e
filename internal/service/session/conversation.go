package session

import (
	"strings"
	"sync"
	"time"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/service/recognition"
)

// turn is one remembered exchange used for referring-expression resolution.
type turn struct {
	input  string
	intent domain.IntentType
	at     time.Time
}

// ConversationContext retains recent turns and recently touched records so
// follow-up utterances like "that one" can be grounded.
type ConversationContext struct {
	mu       sync.RWMutex
	turns    []turn
	refs     []domain.TransactionRef
	capacity int
}

func NewConversationContext(capacity int) *ConversationContext {
	if capacity <= 0 {
		capacity = 20
	}
	return &ConversationContext{capacity: capacity}
}

func (c *ConversationContext) RecordTurn(input string, intent domain.IntentType, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, turn{input: input, intent: intent, at: at})
	if len(c.turns) > c.capacity {
		c.turns = c.turns[len(c.turns)-c.capacity:]
	}
}

// RecordRef remembers a transaction the conversation touched, newest first.
func (c *ConversationContext) RecordRef(ref domain.TransactionRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refs = append([]domain.TransactionRef{ref}, c.refs...)
	if len(c.refs) > c.capacity {
		c.refs = c.refs[:c.capacity]
	}
}

func (c *ConversationContext) RecentRefs() []domain.TransactionRef {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.TransactionRef, len(c.refs))
	copy(out, c.refs)
	return out
}

func (c *ConversationContext) LastIntent() (domain.IntentType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.turns) == 0 {
		return domain.IntentUnknown, false
	}
	return c.turns[len(c.turns)-1].intent, true
}

func (c *ConversationContext) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
	c.refs = nil
}

// Disambiguate resolves a selection utterance against a candidate list.
// Ordinals win ("the second one"), then descriptive matches on amount,
// category word, or merchant substring. Returns false when the utterance
// selects nothing or selects ambiguously.
func Disambiguate(input string, candidates []domain.TransactionRef) (*domain.TransactionRef, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	if n, ok := recognition.ParseOrdinal(input); ok {
		if n == -1 {
			return &candidates[len(candidates)-1], true
		}
		if n >= 1 && n <= len(candidates) {
			return &candidates[n-1], true
		}
		return nil, false
	}

	lowered := strings.ToLower(input)

	if amount, ok := recognition.ParseAmount(input); ok {
		var match *domain.TransactionRef
		for i := range candidates {
			if candidates[i].Amount == amount {
				if match != nil {
					return nil, false // two candidates share the amount
				}
				match = &candidates[i]
			}
		}
		if match != nil {
			return match, true
		}
	}

	var match *domain.TransactionRef
	for i := range candidates {
		c := &candidates[i]
		descriptor := strings.ToLower(c.Category + " " + c.Merchant)
		for _, word := range strings.Fields(lowered) {
			if len(word) >= 3 && strings.Contains(descriptor, word) {
				if match != nil && match != c {
					return nil, false
				}
				match = c
				break
			}
		}
	}
	if match != nil {
		return match, true
	}
	return nil, false
}
