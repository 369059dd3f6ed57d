package event

import (
	"backend-teamrun/internal/apperr"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/create", authMiddleware, func(c *fiber.Ctx) error {
		var req Event
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if len(req.Waypoints) < 2 {
			return fiber.NewError(fiber.StatusBadRequest, "at least two waypoints required")
		}
		created, err := svc.Create(c.Context(), req)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	})

	r.Get("/get/:event", authMiddleware, func(c *fiber.Ctx) error {
		ev, err := svc.Get(c.Context(), c.Params("event"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(ev)
	})

	r.Get("/follow/:event", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.Follow(c.Context(), c.Params("event"), userID(c)); err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(fiber.Map{"following": c.Params("event")})
	})

	r.Get("/unfollow/:event", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.Unfollow(c.Context(), c.Params("event"), userID(c)); err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(fiber.Map{"unfollowed": c.Params("event")})
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
