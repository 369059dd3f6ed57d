package run

import (
	"strconv"

	"backend-teamrun/internal/apperr"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/create", authMiddleware, func(c *fiber.Ctx) error {
		var req Run
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req.UserID = userID(c)
		created, err := svc.Create(c.Context(), req)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	})

	r.Post("/update", authMiddleware, func(c *fiber.Ctx) error {
		var req Run
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req.UserID = userID(c)
		updated, err := svc.Update(c.Context(), req)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(updated)
	})

	r.Get("/getupdate", authMiddleware, func(c *fiber.Ctx) error {
		runID, err := strconv.ParseInt(c.Query("id"), 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "id required")
		}
		since, _ := strconv.ParseInt(c.Query("since", "0"), 10, 64)
		points, err := svc.GetUpdate(c.Context(), userID(c), runID, since)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(points)
	})

	r.Get("/all", authMiddleware, func(c *fiber.Ctx) error {
		runs, err := svc.All(c.Context(), userID(c))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(runs)
	})

	r.Get("/since", authMiddleware, func(c *fiber.Ctx) error {
		ts, _ := strconv.ParseInt(c.Query("ts", "0"), 10, 64)
		runs, err := svc.Since(c.Context(), userID(c), ts)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(runs)
	})

	r.Get("/unfinished", authMiddleware, func(c *fiber.Ctx) error {
		runs, err := svc.Unfinished(c.Context(), userID(c))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(runs)
	})

	r.Get("/delete/:id", authMiddleware, func(c *fiber.Ctx) error {
		runID, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "id required")
		}
		if err := svc.Delete(c.Context(), userID(c), runID); err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(fiber.Map{"deleted": runID})
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
