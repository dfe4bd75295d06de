package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"

	"paybroker/internal/dispatch"
	"paybroker/internal/domain"
)

type (
	Dispatcher interface {
		Intake(ctx context.Context, req domain.PaymentRequest) (dispatch.Outcome, error)
	}

	Summarizer interface {
		Summary(ctx context.Context, from, to time.Time) domain.SummaryResponse
		Rebuild(ctx context.Context) error
	}

	Admin interface {
		Purge(ctx context.Context) error
		Reconcile(ctx context.Context) (int, error)
	}
)

type Handler struct {
	dispatcher Dispatcher
	summarizer Summarizer
	admin      Admin
}

func NewHandler(dispatcher Dispatcher, summarizer Summarizer, admin Admin) *Handler {
	return &Handler{dispatcher: dispatcher, summarizer: summarizer, admin: admin}
}

func (h *Handler) Payments(c *fiber.Ctx) error {
	var req domain.PaymentRequest
	if err := sonic.Unmarshal(c.Body(), &req); err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	outcome, err := h.dispatcher.Intake(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	switch outcome {
	case dispatch.OutcomeAccepted:
		return c.SendStatus(fiber.StatusOK)
	default:
		// queued and duplicate both read as accepted-for-processing
		return c.SendStatus(fiber.StatusAccepted)
	}
}

func (h *Handler) Summary(c *fiber.Ctx) error {
	from := parseTime(c.Query("from"))
	to := parseTime(c.Query("to"))
	return c.JSON(h.summarizer.Summary(c.UserContext(), from, to))
}

func (h *Handler) Purge(c *fiber.Ctx) error {
	if err := h.admin.Purge(c.UserContext()); err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(fiber.Map{"message": "purged"})
}

func (h *Handler) RebuildSummary(c *fiber.Ctx) error {
	if err := h.summarizer.Rebuild(c.UserContext()); err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(fiber.Map{"message": "summary cache rebuilt"})
}

func (h *Handler) Reconcile(c *fiber.Ctx) error {
	moved, err := h.admin.Reconcile(c.UserContext())
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(fiber.Map{"message": "reconciled", "moved": moved})
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
