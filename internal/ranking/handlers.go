package ranking

import (
	"time"

	"backend-teamrun/internal/apperr"

	"github.com/gofiber/fiber/v2"
)

// RegisterEventRoutes serves event rankings: a plain snapshot, the same
// snapshot for live polling clients, and the long-poll subscription that
// blocks until the ranking may have changed or the wait times out.
func RegisterEventRoutes(r fiber.Router, svc *Service, wait time.Duration, authMiddleware fiber.Handler) {
	r.Get("/ranking/:event", authMiddleware, func(c *fiber.Ctx) error {
		entries, err := svc.Rank(c.Context(), c.Params("event"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(entries)
	})

	r.Get("/rankinglive/:event", authMiddleware, func(c *fiber.Ctx) error {
		entries, err := svc.Rank(c.Context(), c.Params("event"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(entries)
	})

	r.Get("/rankingsubscribe/:event", authMiddleware, func(c *fiber.Ctx) error {
		eventID := c.Params("event")
		changed := svc.Notifier().Await(c.Context(), "event:"+eventID, wait)
		entries, err := svc.Rank(c.Context(), eventID)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(fiber.Map{"changed": changed, "ranking": entries})
	})
}

// RegisterRoomRoutes serves the same feed for room races.
func RegisterRoomRoutes(r fiber.Router, svc *Service, wait time.Duration, authMiddleware fiber.Handler) {
	r.Get("/ranking/:room", authMiddleware, func(c *fiber.Ctx) error {
		entries, err := svc.RankRoom(c.Context(), c.Params("room"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(entries)
	})

	r.Get("/rankingsubscribe/:room", authMiddleware, func(c *fiber.Ctx) error {
		roomID := c.Params("room")
		changed := svc.Notifier().Await(c.Context(), "room:"+roomID, wait)
		entries, err := svc.RankRoom(c.Context(), roomID)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(fiber.Map{"changed": changed, "ranking": entries})
	})
}
