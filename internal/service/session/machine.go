package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/adapter/queue"
	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/observability/telemetry"
	"github.com/seu-repo/contavoz/internal/ports"
	"github.com/seu-repo/contavoz/internal/service/recognition"
)

// Config carries the session tunables. Zero values fall back to the
// defaults the voice flow was tuned with.
type Config struct {
	Timeout            time.Duration
	WaitingTimeout     time.Duration
	HistoryCapacity    int
	RecentWindow       int
	DuplicateThreshold float64
	MaxRetries         int
	BackoffBase        time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.WaitingTimeout <= 0 {
		c.WaitingTimeout = 60 * time.Second
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = 50
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = 20
	}
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = 0.8
	}
}

// Deps are the constructor-injected collaborators. Every one is
// independently substitutable; nil optional collaborators degrade the
// matching feature instead of failing the session.
type Deps struct {
	Pipeline     *recognition.Pipeline
	Decomposer   *recognition.Decomposer
	Transactions ports.TransactionRepository
	Budgets      ports.BudgetRepository
	Transcriber  ports.Transcriber
	Synthesizer  ports.Synthesizer
	Search       ports.NLSearchService
	Navigator    ports.NavigationResolver
	Queue        queue.MessageQueue
	Logger       *zap.Logger
}

// Machine is the per-session voice orchestrator. One logical turn runs at
// a time; a concurrent call to a turn entry point is rejected, not queued.
// Timers never mutate state directly: expiry goes through the same
// serialized transition path as user activity.
type Machine struct {
	id     string
	userID string
	cfg    Config

	pipeline   *recognition.Pipeline
	decomposer *recognition.Decomposer
	repo       ports.TransactionRepository
	budgets    ports.BudgetRepository
	transcribe ports.Transcriber
	synth      ports.Synthesizer
	search     ports.NLSearchService
	nav        ports.NavigationResolver
	mq         queue.MessageQueue
	recovery   *RecoveryPolicy
	bargeIn    *BargeInDetector
	history    *CommandHistory
	convo      *ConversationContext
	log        *zap.Logger
	now        func() time.Time

	// turnMu serializes turns. TryLock at the entry point implements the
	// reject-concurrent-turn decision.
	turnMu sync.Mutex

	// mu guards the observable fields below.
	mu           sync.RWMutex
	state        domain.VoiceSessionState
	sessionCtx   *domain.SessionContext
	lastResponse string
	lastPage     string

	timerMu  sync.Mutex
	timer    *time.Timer
	timerGen uint64

	automationStop atomic.Bool
}

func NewMachine(userID string, cfg Config, deps Deps) *Machine {
	cfg.applyDefaults()
	id := uuid.New().String()
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Machine{
		id:         id,
		userID:     userID,
		cfg:        cfg,
		pipeline:   deps.Pipeline,
		decomposer: deps.Decomposer,
		repo:       deps.Transactions,
		budgets:    deps.Budgets,
		transcribe: deps.Transcriber,
		synth:      deps.Synthesizer,
		search:     deps.Search,
		nav:        deps.Navigator,
		mq:         deps.Queue,
		recovery:   NewRecoveryPolicy(cfg.MaxRetries, cfg.BackoffBase, log),
		bargeIn:    NewBargeInDetector(deps.Synthesizer, deps.Transcriber, log),
		history:    NewCommandHistory(cfg.HistoryCapacity),
		convo:      NewConversationContext(cfg.RecentWindow),
		log:        log.With(zap.String("session_id", id)),
		now:        time.Now,
		state:      domain.StateIdle,
	}
}

func (m *Machine) ID() string { return m.id }

func (m *Machine) UserID() string { return m.userID }

// State returns the current session state.
func (m *Machine) State() domain.VoiceSessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastResponse returns the most recent spoken/returned message.
func (m *Machine) LastResponse() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastResponse
}

// History returns a copy of the command history, oldest first.
func (m *Machine) History() []domain.VoiceCommand {
	return m.history.Snapshot()
}

// PendingIntents returns a copy of the pending multi-intent batch, or nil.
func (m *Machine) PendingIntents() *domain.MultiIntentResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.sessionCtx == nil || m.sessionCtx.MultiIntent == nil {
		return nil
	}
	batch := *m.sessionCtx.MultiIntent
	batch.Complete = append([]domain.CompleteIntent(nil), m.sessionCtx.MultiIntent.Complete...)
	batch.Incomplete = append([]domain.IncompleteIntent(nil), m.sessionCtx.MultiIntent.Incomplete...)
	batch.Noise = append([]string(nil), m.sessionCtx.MultiIntent.Noise...)
	return &batch
}

// BargeIn exposes the detector for the audio transport.
func (m *Machine) BargeIn() *BargeInDetector { return m.bargeIn }

// StartSession moves Idle to Listening and arms the activity timer.
func (m *Machine) StartSession(ctx context.Context) *domain.VoiceSessionResult {
	if !m.turnMu.TryLock() {
		return m.busyResult()
	}
	defer m.turnMu.Unlock()

	m.setState(domain.StateListening)
	m.armTimer(m.cfg.Timeout)
	m.publish(queue.SubjectSessionStarted, map[string]any{"session_id": m.id, "user_id": m.userID})

	return &domain.VoiceSessionResult{
		Status:  domain.StatusSuccess,
		Message: "I'm listening.",
	}
}

// StopSession cancels everything in flight and returns the session to Idle.
func (m *Machine) StopSession(ctx context.Context) *domain.VoiceSessionResult {
	m.cancelInFlight()

	m.turnMu.Lock()
	defer m.turnMu.Unlock()

	m.clearContext()
	m.setState(domain.StateIdle)
	m.cancelTimer()
	m.publish(queue.SubjectSessionStopped, map[string]any{"session_id": m.id})

	return &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: "Session ended."}
}

// CancelCurrentOperation stops transcription, playback and any pending
// sub-operation without waiting for natural completion, then parks the
// session in Idle. Safe from any state.
func (m *Machine) CancelCurrentOperation(ctx context.Context) *domain.VoiceSessionResult {
	m.cancelInFlight()

	m.turnMu.Lock()
	defer m.turnMu.Unlock()

	m.clearContext()
	m.setState(domain.StateIdle)
	m.cancelTimer()

	res := &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: "Okay, cancelled."}
	m.setLastResponse(res.Message)
	return res
}

// TryRecoverFromError clears the Error state after cancelling in-flight
// work. Returns false when the session is not in Error.
func (m *Machine) TryRecoverFromError() bool {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()

	if m.State() != domain.StateError {
		return false
	}

	m.cancelInFlight()
	m.clearContext()
	m.recovery.reset()
	m.setState(domain.StateIdle)
	m.cancelTimer()
	m.log.Info("session recovered from error state")
	return true
}

// ProcessCommand runs one full turn for a typed or transcribed utterance.
func (m *Machine) ProcessCommand(ctx context.Context, input string) *domain.VoiceSessionResult {
	if !m.turnMu.TryLock() {
		return m.busyResult()
	}
	defer m.turnMu.Unlock()

	return m.runTurn(ctx, input, false)
}

// ProcessMultiIntentCommand forces the multi-intent decomposition path.
func (m *Machine) ProcessMultiIntentCommand(ctx context.Context, input string) *domain.VoiceSessionResult {
	if !m.turnMu.TryLock() {
		return m.busyResult()
	}
	defer m.turnMu.Unlock()

	return m.runTurn(ctx, input, true)
}

// ProcessAudioStream consumes raw audio and emits one result per final
// transcript. Partial transcripts feed the barge-in detector; a barge-in
// interrupts playback and resets the turn boundary to Listening.
func (m *Machine) ProcessAudioStream(ctx context.Context, audio <-chan []byte) (<-chan domain.VoiceSessionResult, error) {
	if m.transcribe == nil {
		return nil, fmt.Errorf("no transcriber configured")
	}

	chunks, err := m.transcribe.Transcribe(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("failed to start transcription: %w", err)
	}

	out := make(chan domain.VoiceSessionResult)
	go func() {
		defer close(out)
		for chunk := range chunks {
			if !chunk.Final {
				if m.bargeIn.OnUserSpeech(chunk.Text) {
					m.setState(domain.StateListening)
					m.armTimer(m.cfg.Timeout)
				}
				continue
			}
			res := m.ProcessCommand(ctx, chunk.Text)
			select {
			case out <- *res:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// runTurn is the serialized turn loop: validate, recognize, route, handle,
// respond, rearm. Callers hold turnMu. The outer recover boundary turns
// anything a handler lets escape into a well-formed Error-state result.
func (m *Machine) runTurn(ctx context.Context, input string, forceMulti bool) (result *domain.VoiceSessionResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("turn panicked", zap.Any("panic", r), zap.String("input", input))
			m.clearContext()
			m.setState(domain.StateError)
			m.cancelTimer()
			message, suggestion := UserMessage(ErrorUnknown)
			result = &domain.VoiceSessionResult{
				Status:       domain.StatusError,
				ErrorMessage: message,
				Suggestion:   suggestion,
			}
			m.setLastResponse(message)
			m.publish(queue.SubjectSessionError, map[string]any{"session_id": m.id})
		}
	}()

	prevState := m.State()
	if prevState == domain.StateError {
		message, suggestion := UserMessage(ErrorUnknown)
		return &domain.VoiceSessionResult{
			Status:       domain.StatusError,
			ErrorMessage: message,
			Suggestion:   suggestion + " You can also ask me to reset.",
		}
	}

	// Pre-recognition validity filter. Rejected input never reaches
	// recognition and is recorded without an intent result.
	if reason, invalid := recognition.IsInvalid(input); invalid {
		m.log.Debug("input rejected before recognition",
			zap.String("reason", string(reason)))
		m.history.Append(domain.VoiceCommand{Input: input, Timestamp: m.now()})
		res := &domain.VoiceSessionResult{
			Status:  domain.StatusPartial,
			Message: "Sorry, I didn't catch that. Could you say it again?",
		}
		m.respond(ctx, res.Message)
		m.rearmFor(prevState)
		return res
	}

	m.setState(domain.StateProcessing)

	var out *outcome
	sc := m.sessionContext()
	switch {
	case sc != nil && prevState == domain.StateWaitingForConfirmation:
		out = m.continueConfirmation(ctx, input, sc)
	case sc != nil && prevState == domain.StateWaitingForClarification:
		out = m.continueClarification(ctx, input, sc)
	case sc != nil && prevState == domain.StateWaitingForMultiIntentConfirm:
		out = m.continueMultiConfirm(ctx, input, sc)
	case sc != nil && prevState == domain.StateWaitingForAmountSupplement:
		out = m.continueAmountSupplement(ctx, input, sc)
	default:
		out = m.dispatch(ctx, input, forceMulti)
	}

	m.history.Append(domain.VoiceCommand{
		Input:     input,
		Timestamp: m.now(),
		Intent:    out.intent,
		Result:    out.res,
	})
	if out.intent != nil {
		m.convo.RecordTurn(input, out.intent.Type, m.now())
	}

	m.respond(ctx, out.speech)
	m.finishTurn(out.state)

	m.publish(queue.SubjectTurnCompleted, map[string]any{
		"session_id": m.id,
		"input":      input,
		"status":     out.res.Status,
		"state":      out.state,
	})

	intentLabel := "none"
	if out.intent != nil {
		intentLabel = string(out.intent.Type)
	}
	telemetry.VoiceTurnsTotal.WithLabelValues(intentLabel, string(out.res.Status)).Inc()
	telemetry.VoiceTurnLatency.Observe(time.Since(started).Seconds())

	return out.res
}

// outcome is what a handler hands back to the turn loop.
type outcome struct {
	res    *domain.VoiceSessionResult
	state  domain.VoiceSessionState
	speech string
	intent *domain.IntentAnalysisResult
}

// finishTurn applies the handler-selected state and rearms or cancels the
// timeout: Waiting* states get the longer waiting window, Listening the
// normal one, everything else cancels the timer.
func (m *Machine) finishTurn(next domain.VoiceSessionState) {
	m.setState(next)
	switch {
	case next.Waiting():
		m.armTimer(m.cfg.WaitingTimeout)
	case next == domain.StateListening:
		m.armTimer(m.cfg.Timeout)
	default:
		m.cancelTimer()
	}
}

func (m *Machine) rearmFor(prev domain.VoiceSessionState) {
	switch {
	case prev.Waiting():
		m.armTimer(m.cfg.WaitingTimeout)
	case prev == domain.StateListening:
		m.armTimer(m.cfg.Timeout)
	}
}

// respond speaks the response and records it as the last response.
// Playback failure is logged, never surfaced into the turn result.
func (m *Machine) respond(ctx context.Context, speech string) {
	if speech == "" {
		return
	}
	m.setLastResponse(speech)
	if m.synth == nil {
		return
	}
	m.bargeIn.SpeakingStarted()
	defer m.bargeIn.SpeakingFinished()
	if err := m.synth.Speak(ctx, speech); err != nil {
		m.log.Warn("speech synthesis failed", zap.Error(err))
	}
}

// --- timers ---

// armTimer (re)arms the session timeout measured from now. Expiry enqueues
// an abandon transition through the serialized turn path; a stale
// generation means activity already postponed the deadline.
func (m *Machine) armTimer(d time.Duration) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerGen++
	gen := m.timerGen
	m.timer = time.AfterFunc(d, func() { m.onTimeout(gen) })
}

func (m *Machine) cancelTimer() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

func (m *Machine) onTimeout(gen uint64) {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()

	m.timerMu.Lock()
	stale := gen != m.timerGen
	m.timerMu.Unlock()
	if stale {
		return
	}

	state := m.State()
	if state != domain.StateListening && !state.Waiting() {
		return
	}

	// Abandonment, not an error: the pending operation is dropped and the
	// user is told, once, that we stopped waiting.
	m.clearContext()
	m.setState(domain.StateIdle)
	m.cancelTimer()

	if state.Waiting() {
		m.respond(context.Background(), "I didn't hear back, so I've cancelled the pending request.")
	}
	m.log.Info("session timed out", zap.String("from_state", string(state)))
	telemetry.SessionTimeoutsTotal.WithLabelValues(string(state)).Inc()
	m.publish(queue.SubjectSessionTimeout, map[string]any{
		"session_id": m.id,
		"from_state": state,
	})
}

// --- automation ---

// StartAutomation runs a long, externally visible job (bill sync and the
// like) under the AutomationRunning state with cooperative cancellation.
// The job must poll cancelled() between steps.
func (m *Machine) StartAutomation(ctx context.Context, name string, job func(ctx context.Context, cancelled func() bool) error) *domain.VoiceSessionResult {
	if !m.turnMu.TryLock() {
		return m.busyResult()
	}
	defer m.turnMu.Unlock()

	if m.State() != domain.StateIdle && m.State() != domain.StateListening {
		return &domain.VoiceSessionResult{
			Status:       domain.StatusError,
			ErrorMessage: "Another operation is pending; finish or cancel it first.",
		}
	}

	m.automationStop.Store(false)
	m.setState(domain.StateAutomationRunning)
	m.cancelTimer()

	go func() {
		err := job(ctx, m.automationStop.Load)

		m.turnMu.Lock()
		defer m.turnMu.Unlock()

		if m.State() != domain.StateAutomationRunning {
			return // cancelled and already transitioned
		}
		m.setState(domain.StateIdle)
		if err != nil {
			class := Classify(err)
			message, _ := UserMessage(class)
			m.log.Warn("automation failed", zap.String("automation", name), zap.Error(err))
			m.respond(context.Background(), message)
			return
		}
		m.respond(context.Background(), fmt.Sprintf("Finished %s.", name))
	}()

	return &domain.VoiceSessionResult{
		Status:  domain.StatusSuccess,
		Message: fmt.Sprintf("Started %s.", name),
	}
}

// --- multi-intent typed API (mirrors the voice phrases) ---

// ConfirmMultiIntents executes the pending batch if every intent has an
// amount.
func (m *Machine) ConfirmMultiIntents(ctx context.Context) *domain.VoiceSessionResult {
	if !m.turnMu.TryLock() {
		return m.busyResult()
	}
	defer m.turnMu.Unlock()

	sc := m.sessionContext()
	if sc == nil || sc.MultiIntent == nil {
		return &domain.VoiceSessionResult{
			Status:       domain.StatusError,
			ErrorMessage: "There is no pending batch to confirm.",
		}
	}
	out := m.confirmBatch(ctx, sc)
	m.respond(ctx, out.speech)
	m.finishTurn(out.state)
	return out.res
}

// CancelMultiIntents drops the whole pending batch.
func (m *Machine) CancelMultiIntents(ctx context.Context) *domain.VoiceSessionResult {
	if !m.turnMu.TryLock() {
		return m.busyResult()
	}
	defer m.turnMu.Unlock()

	if sc := m.sessionContext(); sc == nil || sc.MultiIntent == nil {
		return &domain.VoiceSessionResult{
			Status:       domain.StatusError,
			ErrorMessage: "There is no pending batch to cancel.",
		}
	}

	m.clearContext()
	res := &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: "Okay, I've dropped those."}
	m.respond(ctx, res.Message)
	m.finishTurn(domain.StateIdle)
	return res
}

// CancelMultiIntentItem removes one item by index, searching the complete
// list first, then the incomplete list. Emptying the batch cancels the
// whole multi-intent session.
func (m *Machine) CancelMultiIntentItem(ctx context.Context, index int) *domain.VoiceSessionResult {
	if !m.turnMu.TryLock() {
		return m.busyResult()
	}
	defer m.turnMu.Unlock()

	sc := m.sessionContext()
	if sc == nil || sc.MultiIntent == nil {
		return &domain.VoiceSessionResult{
			Status:       domain.StatusError,
			ErrorMessage: "There is no pending batch.",
		}
	}

	out := m.removeBatchItem(sc, index)
	m.respond(ctx, out.speech)
	m.finishTurn(out.state)
	return out.res
}

// SupplementAmount fills in the amount for the index-th incomplete intent
// (zero-based), promoting it to the complete list.
func (m *Machine) SupplementAmount(ctx context.Context, index int, amount float64) *domain.VoiceSessionResult {
	if !m.turnMu.TryLock() {
		return m.busyResult()
	}
	defer m.turnMu.Unlock()

	sc := m.sessionContext()
	if sc == nil || sc.MultiIntent == nil {
		return &domain.VoiceSessionResult{
			Status:       domain.StatusError,
			ErrorMessage: "There is no pending batch.",
		}
	}

	out := m.applySupplement(sc, index, amount)
	m.respond(ctx, out.speech)
	m.finishTurn(out.state)
	return out.res
}

// --- internals ---

func (m *Machine) setState(s domain.VoiceSessionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Machine) setLastResponse(text string) {
	m.mu.Lock()
	m.lastResponse = text
	m.mu.Unlock()
}

func (m *Machine) sessionContext() *domain.SessionContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionCtx
}

func (m *Machine) setContext(sc *domain.SessionContext) {
	m.mu.Lock()
	m.sessionCtx = sc
	m.mu.Unlock()
}

func (m *Machine) clearContext() {
	m.setContext(nil)
}

func (m *Machine) pageHint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPage
}

func (m *Machine) setPageHint(page string) {
	m.mu.Lock()
	m.lastPage = page
	m.mu.Unlock()
}

// cancelInFlight stops transcription, playback and the automation flag.
func (m *Machine) cancelInFlight() {
	m.automationStop.Store(true)
	if m.transcribe != nil {
		m.transcribe.Cancel()
	}
	if m.synth != nil {
		m.synth.Stop()
	}
	m.bargeIn.SpeakingFinished()
}

func (m *Machine) busyResult() *domain.VoiceSessionResult {
	return &domain.VoiceSessionResult{
		Status:       domain.StatusError,
		ErrorMessage: "I'm still working on the previous request.",
		Suggestion:   "Give me a second and try again.",
	}
}

func (m *Machine) publish(subject string, payload map[string]any) {
	if m.mq == nil {
		return
	}
	payload["at"] = m.now().Format(time.RFC3339Nano)
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := m.mq.Publish(subject, data); err != nil {
		m.log.Debug("event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
