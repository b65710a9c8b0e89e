package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/ports"
)

// LedgerHandler is the read surface of the ledger the voice engine writes
// to; the app's screens render from here.
type LedgerHandler struct {
	transactions ports.TransactionRepository
	budgets      ports.BudgetRepository
	log          *zap.Logger
}

func NewLedgerHandler(transactions ports.TransactionRepository, budgets ports.BudgetRepository, log *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		transactions: transactions,
		budgets:      budgets,
		log:          log,
	}
}

func (h *LedgerHandler) ListTransactions(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	filter := domain.TransactionFilter{
		Category: c.Query("category"),
		Merchant: c.Query("merchant"),
	}
	if t := c.Query("type"); t != "" {
		filter.Type = domain.TransactionType(t)
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		filter.Limit = limit
	}
	if days, err := strconv.Atoi(c.Query("days")); err == nil && days > 0 {
		filter.From = time.Now().AddDate(0, 0, -days)
	}

	txs, err := h.transactions.Query(c.Context(), userID, filter)
	if err != nil {
		h.log.Error("Failed to query transactions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to query transactions"})
	}
	return c.JSON(txs)
}

func (h *LedgerHandler) GetTransaction(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	tx, err := h.transactions.FindByID(c.Context(), c.Params("id"))
	if err != nil {
		h.log.Error("Failed to load transaction", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load transaction"})
	}
	if tx == nil || tx.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Transaction not found"})
	}
	return c.JSON(tx)
}

func (h *LedgerHandler) ListBudgets(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	budgets, err := h.budgets.FindByUser(c.Context(), userID)
	if err != nil {
		h.log.Error("Failed to load budgets", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load budgets"})
	}
	return c.JSON(budgets)
}
