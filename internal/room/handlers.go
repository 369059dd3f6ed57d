package room

import (
	"backend-teamrun/internal/apperr"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, coord *Coordinator, authMiddleware fiber.Handler) {
	r.Get("/create", authMiddleware, func(c *fiber.Ctx) error {
		snap := coord.Create(userID(c))
		return c.Status(fiber.StatusCreated).JSON(snap)
	})

	r.Get("/join/:room", authMiddleware, func(c *fiber.Ctx) error {
		snap, err := coord.Join(c.Params("room"), userID(c))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(snap)
	})

	r.Get("/ready/:room", authMiddleware, func(c *fiber.Ctx) error {
		snap, err := coord.Ready(c.Params("room"), userID(c))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(snap)
	})

	r.Get("/leave/:room", authMiddleware, func(c *fiber.Ctx) error {
		snap, err := coord.Leave(c.Params("room"), userID(c))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(snap)
	})

	r.Get("/status/:room", authMiddleware, func(c *fiber.Ctx) error {
		snap, err := coord.Status(c.Params("room"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(snap)
	})

	r.Get("/close/:room", authMiddleware, func(c *fiber.Ctx) error {
		if err := coord.Close(c.Params("room")); err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(fiber.Map{"closed": c.Params("room")})
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
