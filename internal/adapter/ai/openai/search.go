package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/ports"
)

const searchPrompt = `You translate a natural-language question about a personal ledger into a filter.
Respond with JSON only:
{"kind": "<single|list|trend|stats>",
 "category": "<ledger category or omit>",
 "merchant": "<name or omit>",
 "type": "<expense|income or omit>",
 "days_back": <integer, how far back the question reaches, default 30>,
 "limit": <integer, max rows, default 20>}
"single" means the question asks about one entry, "list" several entries,
"trend" a change over time, "stats" a total or average.`

// SearchService answers natural-language ledger questions: the LLM builds
// the filter, the store answers it, and the reply is composed locally so
// amounts always come from real rows, never from the model.
type SearchService struct {
	client *Client
	repo   ports.TransactionRepository
	userID string
	now    func() time.Time
	log    *zap.Logger
}

func NewSearchService(client *Client, repo ports.TransactionRepository, userID string, log *zap.Logger) ports.NLSearchService {
	return &SearchService{
		client: client,
		repo:   repo,
		userID: userID,
		now:    time.Now,
		log:    log,
	}
}

type searchReply struct {
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Merchant string `json:"merchant"`
	Type     string `json:"type"`
	DaysBack int    `json:"days_back"`
	Limit    int    `json:"limit"`
}

func (s *SearchService) Search(ctx context.Context, text string) (*ports.SearchResult, error) {
	reply := searchReply{Kind: "stats", DaysBack: 30, Limit: 20}

	if s.client != nil && s.client.Available() {
		raw, err := s.client.completeJSON(ctx, searchPrompt, text)
		if err != nil {
			return nil, fmt.Errorf("ledger search: %w", err)
		}
		if uerr := json.Unmarshal([]byte(raw), &reply); uerr != nil {
			s.log.Warn("ledger search returned malformed json", zap.Error(uerr))
			reply = searchReply{Kind: "stats", DaysBack: 30, Limit: 20}
		}
	}

	filter := domain.TransactionFilter{
		Category: reply.Category,
		Merchant: reply.Merchant,
		Limit:    reply.Limit,
	}
	if reply.Type == string(domain.TransactionTypeIncome) {
		filter.Type = domain.TransactionTypeIncome
	} else if reply.Type == string(domain.TransactionTypeExpense) {
		filter.Type = domain.TransactionTypeExpense
	}
	daysBack := reply.DaysBack
	if daysBack <= 0 {
		daysBack = 30
	}
	filter.From = s.now().AddDate(0, 0, -daysBack)

	rows, err := s.repo.Query(ctx, s.userID, filter)
	if err != nil {
		return nil, fmt.Errorf("ledger search: %w", err)
	}
	if len(rows) == 0 {
		return &ports.SearchResult{Kind: ports.SearchEmpty}, nil
	}

	switch reply.Kind {
	case "single":
		return s.singleAnswer(rows), nil
	case "list":
		return s.listAnswer(rows), nil
	case "trend":
		return s.trendAnswer(rows, daysBack), nil
	default:
		return s.statsAnswer(rows, daysBack), nil
	}
}

func (s *SearchService) singleAnswer(rows []domain.Transaction) *ports.SearchResult {
	tx := rows[0]
	return &ports.SearchResult{
		Kind: ports.SearchSingle,
		Answer: fmt.Sprintf("The most recent one is %s for %s on %s.",
			fmtMoney(tx.Amount), speakableCategory(tx.Category), tx.OccurredAt.Format("January 2")),
		Data: tx.Ref(),
	}
}

func (s *SearchService) listAnswer(rows []domain.Transaction) *ports.SearchResult {
	shown := rows
	if len(shown) > 5 {
		shown = shown[:5]
	}
	parts := make([]string, len(shown))
	refs := make([]domain.TransactionRef, len(shown))
	for i, tx := range shown {
		parts[i] = fmt.Sprintf("%s for %s", fmtMoney(tx.Amount), speakableCategory(tx.Category))
		refs[i] = tx.Ref()
	}
	answer := fmt.Sprintf("I found %d entries. The latest: %s.", len(rows), strings.Join(parts, "; "))
	return &ports.SearchResult{Kind: ports.SearchList, Answer: answer, Data: refs}
}

func (s *SearchService) trendAnswer(rows []domain.Transaction, daysBack int) *ports.SearchResult {
	// Split the window in half and compare the sums.
	mid := s.now().AddDate(0, 0, -daysBack/2)
	var early, late float64
	for _, tx := range rows {
		if tx.OccurredAt.Before(mid) {
			early += tx.Amount
		} else {
			late += tx.Amount
		}
	}

	var answer string
	switch {
	case early == 0:
		answer = fmt.Sprintf("All of it is recent: %s in the last %d days.", fmtMoney(late), daysBack/2)
	case late > early:
		answer = fmt.Sprintf("Spending is up: %s recently versus %s before.", fmtMoney(late), fmtMoney(early))
	case late < early:
		answer = fmt.Sprintf("Spending is down: %s recently versus %s before.", fmtMoney(late), fmtMoney(early))
	default:
		answer = fmt.Sprintf("Spending is flat at about %s per period.", fmtMoney(late))
	}
	return &ports.SearchResult{
		Kind:   ports.SearchTrend,
		Answer: answer,
		Data:   map[string]float64{"early": early, "late": late},
	}
}

func (s *SearchService) statsAnswer(rows []domain.Transaction, daysBack int) *ports.SearchResult {
	var total float64
	for _, tx := range rows {
		total += tx.Amount
	}
	answer := fmt.Sprintf("That's %s across %d entries in the last %d days.",
		fmtMoney(total), len(rows), daysBack)
	return &ports.SearchResult{
		Kind:   ports.SearchStats,
		Answer: answer,
		Data:   map[string]any{"total": total, "count": len(rows)},
	}
}

func fmtMoney(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}

func speakableCategory(category string) string {
	if category == "" {
		return "an uncategorized entry"
	}
	if i := strings.Index(category, "_"); i >= 0 {
		return strings.ReplaceAll(category[i+1:], "_", " ")
	}
	return category
}
