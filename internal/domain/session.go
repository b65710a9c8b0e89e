package domain

import "time"

type VoiceSessionState string

const (
	StateIdle                            VoiceSessionState = "idle"
	StateListening                       VoiceSessionState = "listening"
	StateProcessing                      VoiceSessionState = "processing"
	StateWaitingForConfirmation          VoiceSessionState = "waiting_for_confirmation"
	StateWaitingForClarification         VoiceSessionState = "waiting_for_clarification"
	StateWaitingForMultiIntentConfirm    VoiceSessionState = "waiting_for_multi_intent_confirmation"
	StateWaitingForAmountSupplement      VoiceSessionState = "waiting_for_amount_supplement"
	StateAutomationRunning               VoiceSessionState = "automation_running"
	StateError                           VoiceSessionState = "error"
)

// Waiting reports whether the state expects a follow-up turn from the user.
func (s VoiceSessionState) Waiting() bool {
	switch s {
	case StateWaitingForConfirmation,
		StateWaitingForClarification,
		StateWaitingForMultiIntentConfirm,
		StateWaitingForAmountSupplement:
		return true
	}
	return false
}

type SessionStatus string

const (
	StatusSuccess                 SessionStatus = "success"
	StatusError                   SessionStatus = "error"
	StatusPartial                 SessionStatus = "partial"
	StatusWaitingForConfirmation  SessionStatus = "waiting_for_confirmation"
	StatusWaitingForClarification SessionStatus = "waiting_for_clarification"
)

// VoiceSessionResult is the per-turn contract returned to the caller.
// Callers always receive a well-formed result, never an unhandled error.
type VoiceSessionResult struct {
	Status       SessionStatus  `json:"status"`
	Message      string         `json:"message,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Suggestion   string         `json:"suggestion,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// VoiceCommand is one entry in the session command history.
type VoiceCommand struct {
	Input     string                `json:"input"`
	Timestamp time.Time             `json:"timestamp"`
	Intent    *IntentAnalysisResult `json:"intent,omitempty"`
	Result    *VoiceSessionResult   `json:"result,omitempty"`
}

// ConfirmationReason says why a turn is parked in WaitingForConfirmation.
type ConfirmationReason string

const (
	ConfirmReasonDestructive ConfirmationReason = "destructive"
	ConfirmReasonDuplicate   ConfirmationReason = "duplicate"
)

// PendingConfirmation carries the operation parked behind a yes/no turn.
type PendingConfirmation struct {
	Reason   ConfirmationReason
	Intent   IntentType
	Target   *TransactionRef // delete/modify target, if any
	Candidate *CompleteIntent // add candidate awaiting duplicate confirmation
	Similar  *TransactionRef // the prior record the candidate resembles
	Modify   *CompleteIntent // replacement values for a modify
}

// PendingClarification carries an ambiguous delete/modify target list.
type PendingClarification struct {
	Intent     IntentType
	Candidates []TransactionRef
	Modify     *CompleteIntent // carried through to the resolved target
}

// SessionContext is the handler-specific continuation state for a session.
// Exactly one payload pointer is set, keyed by Intent. Created by a handler
// that needs a follow-up turn; destroyed on confirm/cancel/timeout/success.
type SessionContext struct {
	Intent            IntentType
	NeedsContinuation bool
	CreatedAt         time.Time

	Confirmation  *PendingConfirmation
	Clarification *PendingClarification
	MultiIntent   *MultiIntentResult
}

// LearnedIntent is a confirmed utterance-to-intent pair used by the
// learned-cache recognition layer.
type LearnedIntent struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	UserID     string     `json:"user_id" gorm:"uniqueIndex:idx_learned_user_utterance"`
	Utterance  string     `json:"utterance" gorm:"uniqueIndex:idx_learned_user_utterance"`
	Intent     IntentType `json:"intent"`
	Entities   string     `json:"entities,omitempty"` // JSON-encoded slot map
	Hits       int        `json:"hits"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
