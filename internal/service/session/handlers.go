package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/adapter/queue"
	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/ports"
	"github.com/seu-repo/contavoz/internal/service/recognition"
)

// dispatch routes a fresh (non-continuation) turn. Utterances that split at
// discourse markers go through decomposition first; everything else takes
// the single-intent path.
func (m *Machine) dispatch(ctx context.Context, input string, forceMulti bool) *outcome {
	if (forceMulti || recognition.MultiSegment(input)) && m.decomposer != nil {
		if batch := m.decomposer.Decompose(ctx, m.userID, input); recognition.ShouldEngage(batch) {
			return m.beginMultiIntent(ctx, batch)
		}
	}

	res := m.pipeline.Recognize(ctx, m.userID, input, m.pageHint())
	return m.routeResult(ctx, res)
}

func (m *Machine) routeResult(ctx context.Context, res *domain.IntentAnalysisResult) *outcome {
	switch res.Type {
	case domain.IntentAddTransaction:
		return m.handleAdd(ctx, res)
	case domain.IntentDeleteTransaction:
		return m.handleDelete(ctx, res)
	case domain.IntentModifyTransaction:
		return m.handleModify(ctx, res)
	case domain.IntentQueryTransaction:
		return m.handleQuery(ctx, res)
	case domain.IntentNavigate:
		return m.handleNavigate(ctx, res)
	case domain.IntentConfigure:
		return m.handleConfigure(ctx, res)
	case domain.IntentHelp:
		return m.handleHelp(res)
	case domain.IntentConfirm, domain.IntentCancel:
		return m.handleStrayAck(res)
	default:
		return m.handleUnknown(res)
	}
}

// --- add ---

func (m *Machine) handleAdd(ctx context.Context, res *domain.IntentAnalysisResult) *outcome {
	amountStr := res.Entity(domain.EntityAmount)
	if amountStr == "" {
		// Missing amount parks a batch of one behind the same supplement
		// flow the multi-intent path uses.
		incomplete := m.incompleteFromResult(res)
		batch := &domain.MultiIntentResult{
			Incomplete: []domain.IncompleteIntent{*incomplete},
			RawInput:   res.RawInput,
			Segments:   []string{res.RawInput},
		}
		m.setContext(&domain.SessionContext{
			Intent:            res.Type,
			NeedsContinuation: true,
			CreatedAt:         m.now(),
			MultiIntent:       batch,
		})
		speech := fmt.Sprintf("Got it, %s. How much was it?", describeIncomplete(*incomplete))
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  domain.StateWaitingForAmountSupplement,
			speech: speech,
			intent: res,
		}
	}

	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil || amount <= 0 {
		speech := "I couldn't make out the amount. Could you repeat it?"
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  domain.StateListening,
			speech: speech,
			intent: res,
		}
	}

	candidate := m.completeFromResult(res, amount)

	if similar := m.findSimilar(ctx, candidate); similar != nil {
		m.setContext(&domain.SessionContext{
			Intent:            res.Type,
			NeedsContinuation: true,
			CreatedAt:         m.now(),
			Confirmation: &domain.PendingConfirmation{
				Reason:    domain.ConfirmReasonDuplicate,
				Intent:    res.Type,
				Candidate: candidate,
				Similar:   similar,
			},
		})
		speech := fmt.Sprintf("That looks a lot like %s you already recorded. Add it anyway?",
			describeRef(*similar))
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusWaitingForConfirmation, Message: speech},
			state:  domain.StateWaitingForConfirmation,
			speech: speech,
			intent: res,
		}
	}

	return m.executeAdd(ctx, candidate, res)
}

func (m *Machine) executeAdd(ctx context.Context, ci *domain.CompleteIntent, res *domain.IntentAnalysisResult) *outcome {
	tx, class, err := m.insertIntent(ctx, ci)
	if err != nil {
		return m.failureOutcome(class, err, res)
	}

	m.pipeline.Learn(ctx, m.userID, res)

	speech := fmt.Sprintf("Recorded %s for %s.", fmtAmount(ci.Amount), describeComplete(*ci))
	return &outcome{
		res: &domain.VoiceSessionResult{
			Status:  domain.StatusSuccess,
			Message: speech,
			Data:    map[string]any{"transaction_id": tx.ID},
		},
		state:  domain.StateIdle,
		speech: speech,
		intent: res,
	}
}

// insertIntent persists one complete intent under the recovery policy and
// records the resulting transaction for pronoun resolution.
func (m *Machine) insertIntent(ctx context.Context, ci *domain.CompleteIntent) (*domain.Transaction, ErrorClass, error) {
	tx := m.txFromIntent(ci)
	class, err := m.recovery.Execute(ctx, "insert transaction", func() error {
		return m.repo.Insert(ctx, tx)
	})
	if err != nil {
		return nil, class, err
	}

	m.convo.RecordRef(tx.Ref())
	m.publish(queue.SubjectTransactionRecorded, map[string]any{
		"session_id":     m.id,
		"transaction_id": tx.ID,
		"type":           tx.Type,
		"amount":         tx.Amount,
		"category":       tx.Category,
	})
	return tx, ErrorUnknown, nil
}

// findSimilar runs the duplicate gate against the recent window. A lookup
// failure degrades the gate open rather than blocking the add.
func (m *Machine) findSimilar(ctx context.Context, ci *domain.CompleteIntent) *domain.TransactionRef {
	if m.repo == nil {
		return nil
	}
	recent, err := m.repo.FindRecent(ctx, m.userID, m.cfg.RecentWindow)
	if err != nil {
		m.log.Warn("duplicate gate lookup failed", zap.Error(err))
		return nil
	}

	candidate := m.txFromIntent(ci)
	var best *domain.Transaction
	bestScore := 0.0
	for i := range recent {
		score := domain.Similarity(candidate, &recent[i])
		if score >= m.cfg.DuplicateThreshold && score > bestScore {
			best = &recent[i]
			bestScore = score
		}
	}
	if best == nil {
		return nil
	}
	ref := best.Ref()
	return &ref
}

// --- delete / modify ---

func (m *Machine) handleDelete(ctx context.Context, res *domain.IntentAnalysisResult) *outcome {
	candidates := m.findCandidates(ctx, res, true)

	switch len(candidates) {
	case 0:
		speech := "I couldn't find a matching entry to delete."
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  domain.StateIdle,
			speech: speech,
			intent: res,
		}
	case 1:
		target := candidates[0]
		m.setContext(&domain.SessionContext{
			Intent:            res.Type,
			NeedsContinuation: true,
			CreatedAt:         m.now(),
			Confirmation: &domain.PendingConfirmation{
				Reason: domain.ConfirmReasonDestructive,
				Intent: res.Type,
				Target: &target,
			},
		})
		speech := fmt.Sprintf("Delete %s? Say yes or no.", describeRef(target))
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusWaitingForConfirmation, Message: speech},
			state:  domain.StateWaitingForConfirmation,
			speech: speech,
			intent: res,
		}
	default:
		m.setContext(&domain.SessionContext{
			Intent:            res.Type,
			NeedsContinuation: true,
			CreatedAt:         m.now(),
			Clarification: &domain.PendingClarification{
				Intent:     res.Type,
				Candidates: candidates,
			},
		})
		speech := fmt.Sprintf("I found %d matching entries: %s. Which one should I delete?",
			len(candidates), listCandidates(candidates))
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusWaitingForClarification, Message: speech},
			state:  domain.StateWaitingForClarification,
			speech: speech,
			intent: res,
		}
	}
}

func (m *Machine) handleModify(ctx context.Context, res *domain.IntentAnalysisResult) *outcome {
	amountStr := res.Entity(domain.EntityAmount)
	if amountStr == "" {
		speech := "Tell me the new amount together with the change, like 'change lunch to 50'."
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  domain.StateListening,
			speech: speech,
			intent: res,
		}
	}
	newAmount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil || newAmount <= 0 {
		speech := "I couldn't make out the new amount. Could you repeat it?"
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  domain.StateListening,
			speech: speech,
			intent: res,
		}
	}

	// The amount in a modify utterance is the replacement value, so the
	// candidate search ignores it.
	candidates := m.findCandidates(ctx, res, false)
	modify := &domain.CompleteIntent{Amount: newAmount, OriginalText: res.RawInput}

	switch len(candidates) {
	case 0:
		speech := "I couldn't find a matching entry to change."
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  domain.StateIdle,
			speech: speech,
			intent: res,
		}
	case 1:
		target := candidates[0]
		m.setContext(&domain.SessionContext{
			Intent:            res.Type,
			NeedsContinuation: true,
			CreatedAt:         m.now(),
			Confirmation: &domain.PendingConfirmation{
				Reason: domain.ConfirmReasonDestructive,
				Intent: res.Type,
				Target: &target,
				Modify: modify,
			},
		})
		speech := fmt.Sprintf("Change %s to %s? Say yes or no.", describeRef(target), fmtAmount(newAmount))
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusWaitingForConfirmation, Message: speech},
			state:  domain.StateWaitingForConfirmation,
			speech: speech,
			intent: res,
		}
	default:
		m.setContext(&domain.SessionContext{
			Intent:            res.Type,
			NeedsContinuation: true,
			CreatedAt:         m.now(),
			Clarification: &domain.PendingClarification{
				Intent:     res.Type,
				Candidates: candidates,
				Modify:     modify,
			},
		})
		speech := fmt.Sprintf("I found %d matching entries: %s. Which one should I change?",
			len(candidates), listCandidates(candidates))
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusWaitingForClarification, Message: speech},
			state:  domain.StateWaitingForClarification,
			speech: speech,
			intent: res,
		}
	}
}

// findCandidates resolves the records an utterance could refer to, capped
// at five for a speakable clarification prompt. Store failures fall back to
// the records this conversation already touched.
func (m *Machine) findCandidates(ctx context.Context, res *domain.IntentAnalysisResult, useAmount bool) []domain.TransactionRef {
	filter := domain.TransactionFilter{Limit: m.cfg.RecentWindow}
	if c := res.Entity(domain.EntityCategory); c != "" {
		filter.Category = c
	}
	if mr := res.Entity(domain.EntityMerchant); mr != "" {
		filter.Merchant = mr
	}
	if useAmount {
		if a := res.Entity(domain.EntityAmount); a != "" {
			if v, err := strconv.ParseFloat(a, 64); err == nil {
				filter.MinAmount = v
				filter.MaxAmount = v
			}
		}
	}

	var refs []domain.TransactionRef
	if m.repo != nil {
		list, err := m.repo.Query(ctx, m.userID, filter)
		if err != nil {
			m.log.Warn("candidate lookup failed", zap.Error(err))
			refs = m.convo.RecentRefs()
		} else {
			for i := range list {
				refs = append(refs, list[i].Ref())
			}
		}
	} else {
		refs = m.convo.RecentRefs()
	}

	if len(refs) == 0 && (filter.Category != "" || filter.Merchant != "") {
		// Nothing matched the descriptors; a vague "delete that" still
		// resolves against conversation context.
		refs = m.convo.RecentRefs()
	}
	if len(refs) > 5 {
		refs = refs[:5]
	}
	return refs
}

// --- query ---

func (m *Machine) handleQuery(ctx context.Context, res *domain.IntentAnalysisResult) *outcome {
	if m.search == nil {
		return m.localQuery(ctx, res)
	}

	var sr *ports.SearchResult
	class, err := m.recovery.Execute(ctx, "ledger search", func() error {
		r, serr := m.search.Search(ctx, res.RawInput)
		if serr != nil {
			return serr
		}
		sr = r
		return nil
	})
	if err != nil {
		return m.failureOutcome(class, err, res)
	}
	if sr == nil {
		sr = &ports.SearchResult{Kind: ports.SearchEmpty}
	}

	var speech string
	switch sr.Kind {
	case ports.SearchEmpty:
		speech = "I couldn't find anything matching that."
	case ports.SearchError:
		if sr.Answer != "" {
			speech = sr.Answer
		} else {
			speech = "I couldn't run that search right now."
		}
	default:
		speech = sr.Answer
	}

	return &outcome{
		res: &domain.VoiceSessionResult{
			Status:  domain.StatusSuccess,
			Message: speech,
			Data:    map[string]any{"kind": sr.Kind, "result": sr.Data},
		},
		state:  domain.StateIdle,
		speech: speech,
		intent: res,
	}
}

// localQuery is the degraded search path: filter and sum over the store.
func (m *Machine) localQuery(ctx context.Context, res *domain.IntentAnalysisResult) *outcome {
	filter := domain.TransactionFilter{Limit: m.cfg.RecentWindow}
	if c := res.Entity(domain.EntityCategory); c != "" {
		filter.Category = c
	}

	var list []domain.Transaction
	class, err := m.recovery.Execute(ctx, "ledger query", func() error {
		l, qerr := m.repo.Query(ctx, m.userID, filter)
		if qerr != nil {
			return qerr
		}
		list = l
		return nil
	})
	if err != nil {
		return m.failureOutcome(class, err, res)
	}

	var speech string
	if len(list) == 0 {
		speech = "I couldn't find anything matching that."
	} else {
		var total float64
		for i := range list {
			total += list[i].Amount
		}
		speech = fmt.Sprintf("I found %d entries totaling %s.", len(list), fmtAmount(total))
	}

	return &outcome{
		res: &domain.VoiceSessionResult{
			Status:  domain.StatusSuccess,
			Message: speech,
			Data:    map[string]any{"count": len(list)},
		},
		state:  domain.StateIdle,
		speech: speech,
		intent: res,
	}
}

// --- navigate / configure / help ---

func (m *Machine) handleNavigate(ctx context.Context, res *domain.IntentAnalysisResult) *outcome {
	var name, route string
	if m.nav != nil {
		if target, ok := m.nav.ParseNavigation(res.RawInput); ok {
			name, route = target.PageName, target.Route
		}
	}
	if route == "" {
		name, route, _ = recognition.ResolvePage(res.RawInput)
	}

	if route == "" {
		speech := "Which page should I open? You can say budget, statistics, or settings."
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  domain.StateListening,
			speech: speech,
			intent: res,
		}
	}

	m.setPageHint(name)
	speech := fmt.Sprintf("Opening the %s page.", name)
	return &outcome{
		res: &domain.VoiceSessionResult{
			Status:  domain.StatusSuccess,
			Message: speech,
			Data:    map[string]any{"page": name, "route": route},
		},
		state:  domain.StateIdle,
		speech: speech,
		intent: res,
	}
}

func (m *Machine) handleConfigure(ctx context.Context, res *domain.IntentAnalysisResult) *outcome {
	lowered := strings.ToLower(res.RawInput)
	category := res.Entity(domain.EntityCategory)
	amountStr := res.Entity(domain.EntityAmount)

	if strings.Contains(lowered, "budget") && category != "" && amountStr != "" && m.budgets != nil {
		limit, err := strconv.ParseFloat(amountStr, 64)
		if err == nil && limit > 0 {
			budget := &domain.Budget{
				ID:           uuid.New().String(),
				UserID:       m.userID,
				Category:     category,
				MonthlyLimit: limit,
				CreatedAt:    m.now(),
				UpdatedAt:    m.now(),
			}
			class, uerr := m.recovery.Execute(ctx, "upsert budget", func() error {
				return m.budgets.Upsert(ctx, budget)
			})
			if uerr != nil {
				return m.failureOutcome(class, uerr, res)
			}
			speech := fmt.Sprintf("Budget for %s set to %s a month.", categoryLabel(category), fmtAmount(limit))
			return &outcome{
				res: &domain.VoiceSessionResult{
					Status:  domain.StatusSuccess,
					Message: speech,
					Data:    map[string]any{"budget_id": budget.ID},
				},
				state:  domain.StateIdle,
				speech: speech,
				intent: res,
			}
		}
	}

	speech := "I can set category budgets by voice, like 'set budget for groceries to 400'. Everything else lives on the settings page; say 'open settings'."
	return &outcome{
		res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
		state:  domain.StateListening,
		speech: speech,
		intent: res,
	}
}

// helpTopics maps keyword groups to short spoken how-tos, first match wins.
var helpTopics = []struct {
	keywords []string
	text     string
}{
	{[]string{"add", "record", "spent", "expense"},
		"To record a purchase, say something like 'spent 30 on lunch' or just 'coffee 12'."},
	{[]string{"delete", "remove"},
		"To delete an entry, say 'delete the lunch expense' and confirm when I ask."},
	{[]string{"change", "modify", "fix", "edit"},
		"To fix an entry, say 'change lunch to 50' and confirm the update."},
	{[]string{"budget"},
		"To set a monthly budget, say 'set budget for groceries to 400'."},
	{[]string{"search", "query", "how much", "spend"},
		"Ask me things like 'how much did I spend on coffee' or 'show me this week'."},
	{[]string{"page", "open", "navigate"},
		"Say 'open budget' or 'go to statistics' to move around the app."},
}

const helpOverview = "I can record expenses and income, fix or delete entries, set budgets, answer spending questions, and open app pages. Ask 'how do I add an expense' for details."

func (m *Machine) handleHelp(res *domain.IntentAnalysisResult) *outcome {
	lowered := strings.ToLower(res.RawInput)
	speech := helpOverview
	for _, topic := range helpTopics {
		matched := false
		for _, kw := range topic.keywords {
			if strings.Contains(lowered, kw) {
				matched = true
				break
			}
		}
		if matched {
			speech = topic.text
			break
		}
	}

	return &outcome{
		res:    &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: speech},
		state:  domain.StateIdle,
		speech: speech,
		intent: res,
	}
}

func (m *Machine) handleStrayAck(res *domain.IntentAnalysisResult) *outcome {
	speech := "There's nothing waiting for a yes or no right now."
	return &outcome{
		res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
		state:  domain.StateListening,
		speech: speech,
		intent: res,
	}
}

func (m *Machine) handleUnknown(res *domain.IntentAnalysisResult) *outcome {
	speech := "I didn't understand that."
	return &outcome{
		res: &domain.VoiceSessionResult{
			Status:     domain.StatusPartial,
			Message:    speech,
			Suggestion: "Try something like 'spent 30 on lunch' or 'show me this week'.",
		},
		state:  domain.StateListening,
		speech: speech + " Try something like 'spent 30 on lunch'.",
		intent: res,
	}
}

// --- waiting-state continuations ---

// continueConfirmation interprets the turn after a yes/no question. A
// confident new command abandons the pending operation instead of being
// force-fit into yes or no.
func (m *Machine) continueConfirmation(ctx context.Context, input string, sc *domain.SessionContext) *outcome {
	pc := sc.Confirmation
	if pc == nil {
		m.clearContext()
		return m.dispatch(ctx, input, false)
	}

	if yes, ok := recognition.ParseYesNo(input); ok {
		m.clearContext()
		if !yes {
			speech := "Okay, I won't."
			return &outcome{
				res:    &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: speech},
				state:  domain.StateIdle,
				speech: speech,
			}
		}
		return m.executeConfirmed(ctx, pc)
	}

	if alt := m.pipeline.Recognize(ctx, m.userID, input, m.pageHint()); strongCommand(alt) {
		m.clearContext()
		return m.routeResult(ctx, alt)
	}

	speech := "Please answer yes or no, or give me a new request."
	return &outcome{
		res:    &domain.VoiceSessionResult{Status: domain.StatusWaitingForConfirmation, Message: speech},
		state:  domain.StateWaitingForConfirmation,
		speech: speech,
	}
}

func (m *Machine) executeConfirmed(ctx context.Context, pc *domain.PendingConfirmation) *outcome {
	switch {
	case pc.Reason == domain.ConfirmReasonDuplicate && pc.Candidate != nil:
		return m.executeAdd(ctx, pc.Candidate, nil)

	case pc.Intent == domain.IntentDeleteTransaction && pc.Target != nil:
		class, err := m.recovery.Execute(ctx, "delete transaction", func() error {
			return m.repo.SoftDelete(ctx, pc.Target.ID)
		})
		if err != nil {
			return m.failureOutcome(class, err, nil)
		}
		m.publish(queue.SubjectTransactionDeleted, map[string]any{
			"session_id":     m.id,
			"transaction_id": pc.Target.ID,
		})
		speech := fmt.Sprintf("Deleted %s.", describeRef(*pc.Target))
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: speech},
			state:  domain.StateIdle,
			speech: speech,
		}

	case pc.Intent == domain.IntentModifyTransaction && pc.Target != nil && pc.Modify != nil:
		var updated *domain.Transaction
		class, err := m.recovery.Execute(ctx, "update transaction", func() error {
			tx, ferr := m.repo.FindByID(ctx, pc.Target.ID)
			if ferr != nil {
				return ferr
			}
			if pc.Modify.Amount > 0 {
				tx.Amount = pc.Modify.Amount
			}
			if pc.Modify.Category != "" {
				tx.Category = pc.Modify.Category
			}
			tx.UpdatedAt = m.now()
			updated = tx
			return m.repo.Update(ctx, tx)
		})
		if err != nil {
			return m.failureOutcome(class, err, nil)
		}
		m.convo.RecordRef(updated.Ref())
		m.publish(queue.SubjectTransactionUpdated, map[string]any{
			"session_id":     m.id,
			"transaction_id": updated.ID,
			"amount":         updated.Amount,
		})
		speech := fmt.Sprintf("Updated %s to %s.", describeRef(*pc.Target), fmtAmount(updated.Amount))
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: speech},
			state:  domain.StateIdle,
			speech: speech,
		}
	}

	speech := "That request expired. Let's start over."
	return &outcome{
		res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
		state:  domain.StateIdle,
		speech: speech,
	}
}

func (m *Machine) continueClarification(ctx context.Context, input string, sc *domain.SessionContext) *outcome {
	pcl := sc.Clarification
	if pcl == nil {
		m.clearContext()
		return m.dispatch(ctx, input, false)
	}

	if target, ok := Disambiguate(input, pcl.Candidates); ok {
		m.setContext(&domain.SessionContext{
			Intent:            pcl.Intent,
			NeedsContinuation: true,
			CreatedAt:         m.now(),
			Confirmation: &domain.PendingConfirmation{
				Reason: domain.ConfirmReasonDestructive,
				Intent: pcl.Intent,
				Target: target,
				Modify: pcl.Modify,
			},
		})

		var speech string
		if pcl.Intent == domain.IntentModifyTransaction && pcl.Modify != nil {
			speech = fmt.Sprintf("Change %s to %s? Say yes or no.", describeRef(*target), fmtAmount(pcl.Modify.Amount))
		} else {
			speech = fmt.Sprintf("Delete %s? Say yes or no.", describeRef(*target))
		}
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusWaitingForConfirmation, Message: speech},
			state:  domain.StateWaitingForConfirmation,
			speech: speech,
		}
	}

	if yes, ok := recognition.ParseYesNo(input); ok && !yes {
		m.clearContext()
		speech := "Okay, never mind."
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: speech},
			state:  domain.StateIdle,
			speech: speech,
		}
	}

	if alt := m.pipeline.Recognize(ctx, m.userID, input, m.pageHint()); strongCommand(alt) {
		m.clearContext()
		return m.routeResult(ctx, alt)
	}

	speech := "Which one did you mean? Say the number, like 'the second one'."
	return &outcome{
		res:    &domain.VoiceSessionResult{Status: domain.StatusWaitingForClarification, Message: speech},
		state:  domain.StateWaitingForClarification,
		speech: speech,
	}
}

func (m *Machine) continueMultiConfirm(ctx context.Context, input string, sc *domain.SessionContext) *outcome {
	batch := sc.MultiIntent
	if batch == nil {
		m.clearContext()
		return m.dispatch(ctx, input, false)
	}

	if yes, ok := recognition.ParseYesNo(input); ok {
		if !yes {
			m.clearContext()
			speech := "Okay, I've dropped those."
			return &outcome{
				res:    &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: speech},
				state:  domain.StateIdle,
				speech: speech,
			}
		}
		return m.confirmBatch(ctx, sc)
	}

	if out := m.interpretBatchEdit(input, sc); out != nil {
		return out
	}

	speech := "Say yes to record them, no to drop them, or adjust one, like 'remove the second one'."
	return &outcome{
		res:    &domain.VoiceSessionResult{Status: domain.StatusWaitingForConfirmation, Message: speech},
		state:  domain.StateWaitingForMultiIntentConfirm,
		speech: speech,
	}
}

func (m *Machine) continueAmountSupplement(ctx context.Context, input string, sc *domain.SessionContext) *outcome {
	batch := sc.MultiIntent
	if batch == nil {
		m.clearContext()
		return m.dispatch(ctx, input, false)
	}

	if yes, ok := recognition.ParseYesNo(input); ok {
		if !yes {
			m.clearContext()
			speech := "Okay, I've dropped those."
			return &outcome{
				res:    &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: speech},
				state:  domain.StateIdle,
				speech: speech,
			}
		}
		speech := fmt.Sprintf("I still need amounts for %s.", listIncomplete(batch.Incomplete))
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  domain.StateWaitingForAmountSupplement,
			speech: speech,
		}
	}

	if out := m.interpretBatchEdit(input, sc); out != nil {
		return out
	}

	// A bare amount with exactly one open slot needs no ordinal.
	if amount, ok := recognition.ParseAmount(input); ok && len(batch.Incomplete) == 1 {
		return m.applySupplement(sc, 0, amount)
	}

	speech := fmt.Sprintf("Tell me an amount like 'the first one is 30'. Still missing: %s.",
		listIncomplete(batch.Incomplete))
	return &outcome{
		res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
		state:  domain.StateWaitingForAmountSupplement,
		speech: speech,
	}
}

// interpretBatchEdit handles the shared spoken edits of a pending batch:
// "remove the second one" and "the first one is 30". Returns nil when the
// input is neither.
func (m *Machine) interpretBatchEdit(input string, sc *domain.SessionContext) *outcome {
	batch := sc.MultiIntent
	n, hasOrdinal := recognition.ParseOrdinal(input)
	if !hasOrdinal {
		return nil
	}

	lowered := strings.ToLower(input)
	removal := strings.Contains(lowered, "remove") || strings.Contains(lowered, "delete") ||
		strings.Contains(lowered, "drop") || strings.Contains(lowered, "cancel") ||
		strings.Contains(lowered, "skip")

	if removal {
		total := len(batch.Complete) + len(batch.Incomplete)
		idx := ordinalIndex(n, total)
		return m.removeBatchItem(sc, idx)
	}

	if amount, ok := recognition.ParseAmount(input); ok {
		idx := ordinalIndex(n, len(batch.Incomplete))
		return m.applySupplement(sc, idx, amount)
	}
	return nil
}

// ordinalIndex converts a one-based spoken ordinal (or -1 for "last") to a
// zero-based index; out-of-range inputs stay out of range for the caller's
// bounds check.
func ordinalIndex(n, total int) int {
	if n == -1 {
		return total - 1
	}
	return n - 1
}

// --- batch operations ---

func (m *Machine) beginMultiIntent(ctx context.Context, batch *domain.MultiIntentResult) *outcome {
	// Pure navigation needs no confirmation round.
	if batch.IntentCount() == 0 && batch.Navigation != nil {
		m.setPageHint(batch.Navigation.TargetPage)
		speech := fmt.Sprintf("Opening the %s page.", batch.Navigation.TargetPage)
		return &outcome{
			res: &domain.VoiceSessionResult{
				Status:  domain.StatusSuccess,
				Message: speech,
				Data:    map[string]any{"page": batch.Navigation.TargetPage, "route": batch.Navigation.Route},
			},
			state:  domain.StateIdle,
			speech: speech,
		}
	}

	m.setContext(&domain.SessionContext{
		Intent:            domain.IntentAddTransaction,
		NeedsContinuation: true,
		CreatedAt:         m.now(),
		MultiIntent:       batch,
	})

	if len(batch.Incomplete) > 0 {
		speech := fmt.Sprintf("I heard %d things: %s. I still need amounts for %s.",
			batch.IntentCount(), summarizeBatch(batch), listIncomplete(batch.Incomplete))
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  domain.StateWaitingForAmountSupplement,
			speech: speech,
		}
	}

	speech := fmt.Sprintf("I heard %d things: %s. Shall I record them all?",
		batch.IntentCount(), summarizeBatch(batch))
	return &outcome{
		res:    &domain.VoiceSessionResult{Status: domain.StatusWaitingForConfirmation, Message: speech},
		state:  domain.StateWaitingForMultiIntentConfirm,
		speech: speech,
	}
}

// confirmBatch persists every complete intent in order. The first failure
// stops the batch; already persisted items stay persisted and the user is
// told how far it got.
func (m *Machine) confirmBatch(ctx context.Context, sc *domain.SessionContext) *outcome {
	batch := sc.MultiIntent
	if len(batch.Incomplete) > 0 {
		speech := fmt.Sprintf("I still need amounts for %s.", listIncomplete(batch.Incomplete))
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  domain.StateWaitingForAmountSupplement,
			speech: speech,
		}
	}

	recorded := 0
	for i := range batch.Complete {
		if _, class, err := m.insertIntent(ctx, &batch.Complete[i]); err != nil {
			m.clearContext()
			out := m.failureOutcome(class, err, nil)
			if recorded > 0 {
				out.speech = fmt.Sprintf("I recorded %d of them, then ran into a problem. %s", recorded, out.speech)
				out.res.Message = out.speech
			}
			return out
		}
		recorded++
	}

	nav := batch.Navigation
	m.clearContext()

	speech := fmt.Sprintf("Recorded %d transactions.", recorded)
	if recorded == 1 {
		speech = "Recorded 1 transaction."
	}
	data := map[string]any{"recorded": recorded}
	if nav != nil {
		m.setPageHint(nav.TargetPage)
		speech += fmt.Sprintf(" Opening the %s page.", nav.TargetPage)
		data["page"] = nav.TargetPage
		data["route"] = nav.Route
	}

	return &outcome{
		res:    &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: speech, Data: data},
		state:  domain.StateIdle,
		speech: speech,
	}
}

// removeBatchItem drops one pending item by zero-based index, counting
// through the complete list first, then the incomplete list.
func (m *Machine) removeBatchItem(sc *domain.SessionContext, index int) *outcome {
	batch := sc.MultiIntent
	total := len(batch.Complete) + len(batch.Incomplete)
	if index < 0 || index >= total {
		speech := "That item number doesn't exist."
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  batchState(batch),
			speech: speech,
		}
	}

	var removed string
	if index < len(batch.Complete) {
		removed = describeComplete(batch.Complete[index])
		batch.Complete = append(batch.Complete[:index], batch.Complete[index+1:]...)
	} else {
		i := index - len(batch.Complete)
		removed = describeIncomplete(batch.Incomplete[i])
		batch.Incomplete = append(batch.Incomplete[:i], batch.Incomplete[i+1:]...)
	}

	if batch.IntentCount() == 0 {
		m.clearContext()
		speech := fmt.Sprintf("Removed %s. Nothing left to record.", removed)
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusSuccess, Message: speech},
			state:  domain.StateIdle,
			speech: speech,
		}
	}

	speech := fmt.Sprintf("Removed %s. %s", removed, batchPrompt(batch))
	return &outcome{
		res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
		state:  batchState(batch),
		speech: speech,
	}
}

// applySupplement fills the amount of the index-th incomplete item
// (zero-based) and promotes it to the complete list.
func (m *Machine) applySupplement(sc *domain.SessionContext, index int, amount float64) *outcome {
	batch := sc.MultiIntent
	if index < 0 || index >= len(batch.Incomplete) {
		speech := "That item number doesn't match anything still missing an amount."
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  batchState(batch),
			speech: speech,
		}
	}
	if amount <= 0 {
		speech := "The amount has to be more than zero."
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
			state:  batchState(batch),
			speech: speech,
		}
	}

	item := batch.Incomplete[index]
	batch.Incomplete = append(batch.Incomplete[:index], batch.Incomplete[index+1:]...)
	batch.Complete = append(batch.Complete, item.WithAmount(amount))

	if len(batch.Incomplete) == 0 {
		speech := fmt.Sprintf("All set: %s. Shall I record them?", summarizeBatch(batch))
		return &outcome{
			res:    &domain.VoiceSessionResult{Status: domain.StatusWaitingForConfirmation, Message: speech},
			state:  domain.StateWaitingForMultiIntentConfirm,
			speech: speech,
		}
	}

	speech := fmt.Sprintf("Got it, %s for %s. Still missing: %s.",
		fmtAmount(amount), describeIncomplete(item), listIncomplete(batch.Incomplete))
	return &outcome{
		res:    &domain.VoiceSessionResult{Status: domain.StatusPartial, Message: speech},
		state:  domain.StateWaitingForAmountSupplement,
		speech: speech,
	}
}

// batchState says which waiting state a pending batch belongs in.
func batchState(batch *domain.MultiIntentResult) domain.VoiceSessionState {
	if len(batch.Incomplete) > 0 {
		return domain.StateWaitingForAmountSupplement
	}
	return domain.StateWaitingForMultiIntentConfirm
}

func batchPrompt(batch *domain.MultiIntentResult) string {
	if len(batch.Incomplete) > 0 {
		return fmt.Sprintf("Still missing amounts for %s.", listIncomplete(batch.Incomplete))
	}
	return fmt.Sprintf("That leaves %s. Shall I record them?", summarizeBatch(batch))
}

// --- shared helpers ---

func (m *Machine) failureOutcome(class ErrorClass, err error, res *domain.IntentAnalysisResult) *outcome {
	message, suggestion := UserMessage(class)
	m.log.Warn("operation failed", zap.String("class", string(class)), zap.Error(err))
	m.publish(queue.SubjectSessionError, map[string]any{
		"session_id": m.id,
		"class":      class,
	})
	return &outcome{
		res: &domain.VoiceSessionResult{
			Status:       domain.StatusError,
			ErrorMessage: message,
			Suggestion:   suggestion,
		},
		state:  domain.StateError,
		speech: message + " " + suggestion,
		intent: res,
	}
}

// strongCommand reports whether a recognition result is confident enough to
// abandon a pending waiting-state question.
func strongCommand(res *domain.IntentAnalysisResult) bool {
	if res == nil || res.Confidence < 0.85 {
		return false
	}
	switch res.Type {
	case domain.IntentConfirm, domain.IntentCancel, domain.IntentUnknown:
		return false
	}
	return true
}

func (m *Machine) completeFromResult(res *domain.IntentAnalysisResult, amount float64) *domain.CompleteIntent {
	ci := &domain.CompleteIntent{
		Type:         recognition.TransactionTypeOf(res.RawInput),
		Amount:       amount,
		Category:     res.Entity(domain.EntityCategory),
		Merchant:     res.Entity(domain.EntityMerchant),
		OriginalText: res.RawInput,
	}
	if d := res.Entity(domain.EntityDate); d != "" {
		if t, err := time.Parse(time.RFC3339, d); err == nil {
			ci.OccurredAt = &t
		}
	}
	return ci
}

func (m *Machine) incompleteFromResult(res *domain.IntentAnalysisResult) *domain.IncompleteIntent {
	ii := &domain.IncompleteIntent{
		Type:         recognition.TransactionTypeOf(res.RawInput),
		Category:     res.Entity(domain.EntityCategory),
		Merchant:     res.Entity(domain.EntityMerchant),
		OriginalText: res.RawInput,
	}
	if d := res.Entity(domain.EntityDate); d != "" {
		if t, err := time.Parse(time.RFC3339, d); err == nil {
			ii.OccurredAt = &t
		}
	}
	return ii
}

func (m *Machine) txFromIntent(ci *domain.CompleteIntent) *domain.Transaction {
	occurred := m.now()
	if ci.OccurredAt != nil {
		occurred = *ci.OccurredAt
	}
	return &domain.Transaction{
		ID:         uuid.New().String(),
		UserID:     m.userID,
		Type:       ci.Type,
		Amount:     ci.Amount,
		Category:   ci.Category,
		Merchant:   ci.Merchant,
		Note:       ci.OriginalText,
		OccurredAt: occurred,
		CreatedAt:  m.now(),
		UpdatedAt:  m.now(),
	}
}

func fmtAmount(a float64) string {
	return "$" + strconv.FormatFloat(a, 'f', -1, 64)
}

// categoryLabel turns a ledger category key into something speakable:
// "food_lunch" becomes "lunch".
func categoryLabel(category string) string {
	if i := strings.Index(category, "_"); i >= 0 {
		return strings.ReplaceAll(category[i+1:], "_", " ")
	}
	return category
}

func describeComplete(ci domain.CompleteIntent) string {
	switch {
	case ci.Category != "":
		return categoryLabel(ci.Category)
	case ci.Merchant != "":
		return ci.Merchant
	default:
		return ci.OriginalText
	}
}

func describeIncomplete(ii domain.IncompleteIntent) string {
	switch {
	case ii.Category != "":
		return categoryLabel(ii.Category)
	case ii.Merchant != "":
		return ii.Merchant
	default:
		return ii.OriginalText
	}
}

func describeRef(r domain.TransactionRef) string {
	label := categoryLabel(r.Category)
	if label == "" {
		label = r.Merchant
	}
	if label == "" {
		label = "entry"
	}
	return fmt.Sprintf("the %s %s from %s", fmtAmount(r.Amount), label, r.OccurredAt.Format("January 2"))
}

func listCandidates(refs []domain.TransactionRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = fmt.Sprintf("%d, %s", i+1, describeRef(r))
	}
	return strings.Join(parts, "; ")
}

func listIncomplete(items []domain.IncompleteIntent) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprintf("%d, %s", i+1, describeIncomplete(item))
	}
	return strings.Join(parts, "; ")
}

func summarizeBatch(batch *domain.MultiIntentResult) string {
	var parts []string
	for _, ci := range batch.Complete {
		parts = append(parts, fmt.Sprintf("%s for %s", fmtAmount(ci.Amount), describeComplete(ci)))
	}
	for _, ii := range batch.Incomplete {
		parts = append(parts, describeIncomplete(ii)+" (amount missing)")
	}
	if batch.Navigation != nil {
		parts = append(parts, "opening the "+batch.Navigation.TargetPage+" page")
	}
	return strings.Join(parts, "; ")
}
