package httpapi

import (
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
)

func NewApp(handler *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		DisableStartupMessage: true,
	})

	app.Post("/payments", handler.Payments)
	app.Get("/payments-summary", handler.Summary)
	app.Post("/purge-payments", handler.Purge)
	app.Post("/rebuild-summary-cache", handler.RebuildSummary)
	app.Post("/reconcile-processing", handler.Reconcile)

	return app
}
