// Package http exposes the tracker and calibrator over a small fiber API.
package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"filtersense/internal/calibrate"
	"filtersense/internal/domain"
	"filtersense/internal/service"
)

func Register(app *fiber.App, svcs *service.Services) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	app.Get("/efficiency", func(c *fiber.Ctx) error {
		est, ok := svcs.Tracking.Efficiency()
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no measurements yet"})
		}
		return c.JSON(est)
	})

	app.Get("/summary", func(c *fiber.Ctx) error {
		return c.JSON(svcs.Tracking.Summary())
	})

	app.Get("/daily", func(c *fiber.Ctx) error {
		return c.JSON(svcs.Tracking.Daily())
	})

	app.Get("/fit", func(c *fiber.Ctx) error {
		res, ok := svcs.Calibration.CurrentFit()
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no calibration run yet"})
		}
		return c.JSON(res)
	})

	app.Get("/recommendations", func(c *fiber.Ctx) error {
		return c.JSON(svcs.Calibration.Recommendations())
	})

	app.Post("/measurements", func(c *fiber.Ctx) error {
		var m domain.Measurement
		if err := c.BodyParser(&m); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		svcs.Tracking.Ingest(m)
		return c.SendStatus(fiber.StatusAccepted)
	})

	app.Post("/fit/run", func(c *fiber.Ctx) error {
		res, err := svcs.Calibration.Run()
		if err != nil {
			if errors.Is(err, calibrate.ErrInsufficientData) {
				return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(res)
	})
}
