package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/seu-repo/contavoz/internal/adapter/queue"
	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/mocks"
	"github.com/seu-repo/contavoz/internal/ports"
	"github.com/seu-repo/contavoz/internal/service/recognition"
)

var testNow = time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)

type machineFixture struct {
	m           *Machine
	repo        *mocks.MockTransactionRepository
	budgets     *mocks.MockBudgetRepository
	synth       *mocks.MockSynthesizer
	transcriber *mocks.MockTranscriber
	fallback    *mocks.MockFallbackRecognizer
	mq          *mocks.MockMessageQueue
}

func newFixture(cfg Config) *machineFixture {
	log := newTestLogger()
	fallback := &mocks.MockFallbackRecognizer{}
	pipeline := recognition.NewPipeline(recognition.Config{},
		&mocks.MockLearnedIntentRepository{}, mocks.NewMockCache(), fallback, log)

	f := &machineFixture{
		repo:        &mocks.MockTransactionRepository{},
		budgets:     &mocks.MockBudgetRepository{},
		synth:       &mocks.MockSynthesizer{},
		transcriber: &mocks.MockTranscriber{},
		fallback:    fallback,
		mq:          mocks.NewMockMessageQueue(),
	}
	f.m = NewMachine("user-1", cfg, Deps{
		Pipeline:     pipeline,
		Decomposer:   recognition.NewDecomposer(pipeline, nil, nil, log),
		Transactions: f.repo,
		Budgets:      f.budgets,
		Transcriber:  f.transcriber,
		Synthesizer:  f.synth,
		Queue:        f.mq,
		Logger:       log,
	})
	f.m.now = func() time.Time { return testNow }
	return f
}

// waitForState polls until the machine reaches the wanted state or the
// deadline passes. Timer expiry runs on its own goroutine.
func waitForState(t *testing.T, m *Machine, want domain.VoiceSessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("machine never reached %v, stuck in %v", want, m.State())
}

func TestStartSession(t *testing.T) {
	f := newFixture(Config{})

	res := f.m.StartSession(context.Background())

	if res.Status != domain.StatusSuccess || res.Message != "I'm listening." {
		t.Errorf("unexpected result %+v", res)
	}
	if f.m.State() != domain.StateListening {
		t.Errorf("expected listening, got %v", f.m.State())
	}

	published := f.mq.GetPublishedMessages(queue.SubjectSessionStarted)
	if len(published) != 1 {
		t.Fatalf("expected one session-started event, got %d", len(published))
	}
	var event map[string]any
	if err := json.Unmarshal(published[0], &event); err != nil {
		t.Fatalf("event is not valid json: %v", err)
	}
	if event["user_id"] != "user-1" {
		t.Errorf("expected the event to carry the user, got %v", event)
	}
}

func TestProcessCommand_RecordsExpense(t *testing.T) {
	f := newFixture(Config{})

	var inserted *domain.Transaction
	f.repo.InsertFunc = func(ctx context.Context, tx *domain.Transaction) error {
		inserted = tx
		return nil
	}

	res := f.m.ProcessCommand(context.Background(), "I spent 20 dollars on lunch")

	if res.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Message != "Recorded $20 for lunch." {
		t.Errorf("unexpected message %q", res.Message)
	}
	if res.Data["transaction_id"] == "" {
		t.Error("expected the transaction id in the result data")
	}
	if f.m.State() != domain.StateIdle {
		t.Errorf("expected idle after a completed turn, got %v", f.m.State())
	}

	if inserted == nil {
		t.Fatal("expected an insert")
	}
	if inserted.UserID != "user-1" || inserted.Amount != 20 ||
		inserted.Category != "food_lunch" || inserted.Type != domain.TransactionTypeExpense {
		t.Errorf("unexpected transaction %+v", inserted)
	}

	if len(f.synth.Spoken) != 1 || f.synth.Spoken[0] != res.Message {
		t.Errorf("expected the response spoken back, got %v", f.synth.Spoken)
	}
	if len(f.mq.GetPublishedMessages(queue.SubjectTransactionRecorded)) != 1 {
		t.Error("expected a transaction-recorded event")
	}
	if len(f.mq.GetPublishedMessages(queue.SubjectTurnCompleted)) != 1 {
		t.Error("expected a turn-completed event")
	}

	history := f.m.History()
	if len(history) != 1 || history[0].Intent == nil {
		t.Errorf("expected the turn in history with its intent, got %v", history)
	}
}

func TestProcessCommand_RejectsConcurrentTurn(t *testing.T) {
	f := newFixture(Config{})

	f.m.turnMu.Lock()
	res := f.m.ProcessCommand(context.Background(), "I spent 20 dollars on lunch")
	f.m.turnMu.Unlock()

	if res.Status != domain.StatusError {
		t.Fatalf("expected a rejection, got %+v", res)
	}
	if res.ErrorMessage != "I'm still working on the previous request." {
		t.Errorf("unexpected message %q", res.ErrorMessage)
	}
}

func TestProcessCommand_ErrorStateRequiresReset(t *testing.T) {
	f := newFixture(Config{})
	f.m.setState(domain.StateError)

	res := f.m.ProcessCommand(context.Background(), "I spent 20 dollars on lunch")

	if res.Status != domain.StatusError {
		t.Fatalf("expected the turn refused, got %+v", res)
	}
	if res.Suggestion == "" {
		t.Error("expected a recovery suggestion")
	}
	if f.m.State() != domain.StateError {
		t.Errorf("expected the machine to stay in error, got %v", f.m.State())
	}
}

func TestProcessCommand_InvalidInputShortCircuits(t *testing.T) {
	f := newFixture(Config{})
	f.m.StartSession(context.Background())

	res := f.m.ProcessCommand(context.Background(), "um uh")

	if res.Status != domain.StatusPartial {
		t.Fatalf("expected a partial result, got %+v", res)
	}
	if res.Message != "Sorry, I didn't catch that. Could you say it again?" {
		t.Errorf("unexpected message %q", res.Message)
	}
	if f.m.State() != domain.StateListening {
		t.Errorf("expected the session to keep listening, got %v", f.m.State())
	}
	if len(f.fallback.Calls) != 0 {
		t.Error("rejected input must never reach recognition")
	}

	history := f.m.History()
	if len(history) != 1 || history[0].Intent != nil {
		t.Errorf("expected the input recorded without an intent, got %v", history)
	}
}

func TestSessionTimeout_ListeningGoesIdleSilently(t *testing.T) {
	f := newFixture(Config{Timeout: 25 * time.Millisecond})
	f.m.StartSession(context.Background())

	waitForState(t, f.m, domain.StateIdle)

	if len(f.mq.GetPublishedMessages(queue.SubjectSessionTimeout)) != 1 {
		t.Error("expected a timeout event")
	}
	if len(f.synth.Spoken) != 0 {
		t.Errorf("a listening timeout must not speak, got %v", f.synth.Spoken)
	}
}

func TestSessionTimeout_WaitingStateAnnouncesCancellation(t *testing.T) {
	f := newFixture(Config{Timeout: 10 * time.Second, WaitingTimeout: 25 * time.Millisecond})

	res := f.m.ProcessCommand(context.Background(), "bought coffee")
	if f.m.State() != domain.StateWaitingForAmountSupplement {
		t.Fatalf("setup failed, got %v: %+v", f.m.State(), res)
	}

	waitForState(t, f.m, domain.StateIdle)

	if f.m.LastResponse() != "I didn't hear back, so I've cancelled the pending request." {
		t.Errorf("unexpected last response %q", f.m.LastResponse())
	}
	if f.m.PendingIntents() != nil {
		t.Error("expected the pending batch dropped")
	}
}

func TestStopSession(t *testing.T) {
	f := newFixture(Config{})
	f.m.StartSession(context.Background())

	res := f.m.StopSession(context.Background())

	if res.Status != domain.StatusSuccess || res.Message != "Session ended." {
		t.Errorf("unexpected result %+v", res)
	}
	if f.m.State() != domain.StateIdle {
		t.Errorf("expected idle, got %v", f.m.State())
	}
	if !f.transcriber.Cancelled || !f.synth.Stopped {
		t.Error("expected transcription and playback cancelled")
	}
	if len(f.mq.GetPublishedMessages(queue.SubjectSessionStopped)) != 1 {
		t.Error("expected a session-stopped event")
	}
}

func TestCancelCurrentOperation(t *testing.T) {
	f := newFixture(Config{})

	f.m.ProcessCommand(context.Background(), "bought coffee")
	if f.m.PendingIntents() == nil {
		t.Fatal("setup failed, expected a pending batch")
	}

	res := f.m.CancelCurrentOperation(context.Background())

	if res.Status != domain.StatusSuccess || res.Message != "Okay, cancelled." {
		t.Errorf("unexpected result %+v", res)
	}
	if f.m.State() != domain.StateIdle {
		t.Errorf("expected idle, got %v", f.m.State())
	}
	if f.m.PendingIntents() != nil {
		t.Error("expected the pending batch dropped")
	}
}

func TestTryRecoverFromError(t *testing.T) {
	f := newFixture(Config{})

	if f.m.TryRecoverFromError() {
		t.Error("recovery from a non-error state must be refused")
	}

	f.repo.InsertFunc = func(ctx context.Context, tx *domain.Transaction) error {
		return errors.New("permission denied")
	}
	res := f.m.ProcessCommand(context.Background(), "I spent 20 dollars on lunch")
	if res.Status != domain.StatusError || f.m.State() != domain.StateError {
		t.Fatalf("setup failed, got state %v result %+v", f.m.State(), res)
	}
	if res.ErrorMessage != "I'm not allowed to do that with the current account." {
		t.Errorf("unexpected error message %q", res.ErrorMessage)
	}

	if !f.m.TryRecoverFromError() {
		t.Fatal("expected recovery from the error state")
	}
	if f.m.State() != domain.StateIdle {
		t.Errorf("expected idle after recovery, got %v", f.m.State())
	}
	if f.m.TryRecoverFromError() {
		t.Error("a second recovery must be refused")
	}
}

func TestPendingIntents_ReturnsACopy(t *testing.T) {
	f := newFixture(Config{})

	f.m.ProcessCommand(context.Background(), "I spent 20 on lunch and 30 on gas")

	batch := f.m.PendingIntents()
	if batch == nil || len(batch.Complete) != 2 {
		t.Fatalf("setup failed, got %+v", batch)
	}

	batch.Complete[0].Amount = 999

	if got := f.m.PendingIntents().Complete[0].Amount; got != 20 {
		t.Errorf("mutating the copy leaked into the session: %v", got)
	}
}

func TestProcessAudioStream(t *testing.T) {
	f := newFixture(Config{})

	chunks := make(chan ports.TranscriptChunk, 2)
	f.transcriber.TranscribeFunc = func(ctx context.Context, audio <-chan []byte) (<-chan ports.TranscriptChunk, error) {
		return chunks, nil
	}

	out, err := f.m.ProcessAudioStream(context.Background(), make(chan []byte))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A partial transcript during playback barges in; the final one runs a
	// full turn.
	f.m.bargeIn.SpeakingStarted()
	chunks <- ports.TranscriptChunk{Text: "actually wait", Final: false}
	chunks <- ports.TranscriptChunk{Text: "I spent 20 dollars on lunch", Final: true}
	close(chunks)

	var results []domain.VoiceSessionResult
	for res := range out {
		results = append(results, res)
	}

	if len(results) != 1 {
		t.Fatalf("expected one result per final transcript, got %d", len(results))
	}
	if results[0].Status != domain.StatusSuccess {
		t.Errorf("unexpected result %+v", results[0])
	}
	if !f.synth.FadedOut {
		t.Error("expected the barge-in to fade playback out")
	}
	if !f.transcriber.Cancelled {
		t.Error("expected the barge-in to cancel the previous transcription")
	}
}

func TestStartAutomation(t *testing.T) {
	f := newFixture(Config{})

	done := make(chan struct{})
	res := f.m.StartAutomation(context.Background(), "bill sync", func(ctx context.Context, cancelled func() bool) error {
		defer close(done)
		return nil
	})

	if res.Status != domain.StatusSuccess || res.Message != "Started bill sync." {
		t.Fatalf("unexpected result %+v", res)
	}
	<-done
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.m.State() == domain.StateIdle && f.m.LastResponse() == "Finished bill sync." {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("automation never completed: state %v, last response %q", f.m.State(), f.m.LastResponse())
}

func TestStartAutomation_RefusedWhileWaiting(t *testing.T) {
	f := newFixture(Config{})
	f.m.ProcessCommand(context.Background(), "bought coffee")

	res := f.m.StartAutomation(context.Background(), "bill sync", func(ctx context.Context, cancelled func() bool) error {
		return nil
	})

	if res.Status != domain.StatusError {
		t.Errorf("expected the automation refused while a question is pending, got %+v", res)
	}
}
