package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/service/session"
)

// SessionHandler exposes the live voice sessions over REST: observability
// for dashboards plus a text fallback for clients without audio.
type SessionHandler struct {
	manager *session.Manager
	log     *zap.Logger
}

func NewSessionHandler(manager *session.Manager, log *zap.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		log:     log,
	}
}

func (h *SessionHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"count":    h.manager.Count(),
		"sessions": h.manager.Snapshots(),
	})
}

func (h *SessionHandler) Get(c *fiber.Ctx) error {
	machine, ok := h.machineFor(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	}

	return c.JSON(fiber.Map{
		"id":            machine.ID(),
		"state":         machine.State(),
		"last_response": machine.LastResponse(),
		"pending":       machine.PendingIntents(),
	})
}

func (h *SessionHandler) History(c *fiber.Ctx) error {
	machine, ok := h.machineFor(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	}
	return c.JSON(machine.History())
}

type commandRequest struct {
	Text string `json:"text"`
}

// Command runs one text turn, the REST twin of the websocket "command"
// message.
func (h *SessionHandler) Command(c *fiber.Ctx) error {
	machine, ok := h.machineFor(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	}

	var req commandRequest
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}

	result := machine.ProcessCommand(c.Context(), req.Text)
	return c.JSON(fiber.Map{
		"result": result,
		"state":  machine.State(),
	})
}

func (h *SessionHandler) Recover(c *fiber.Ctx) error {
	machine, ok := h.machineFor(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	}

	if !machine.TryRecoverFromError() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Session is not in an error state"})
	}
	return c.JSON(fiber.Map{"state": machine.State()})
}

// machineFor resolves the session and enforces that callers only reach
// their own sessions.
func (h *SessionHandler) machineFor(c *fiber.Ctx) (*session.Machine, bool) {
	userID, _ := c.Locals("user_id").(string)
	machine, ok := h.manager.Get(c.Params("id"))
	if !ok || machine.UserID() != userID {
		return nil, false
	}
	return machine, true
}
