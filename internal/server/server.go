package server

import (
	"time"

	"backend-teamrun/internal/auth"
	"backend-teamrun/internal/config"
	"backend-teamrun/internal/event"
	"backend-teamrun/internal/ranking"
	"backend-teamrun/internal/room"
	"backend-teamrun/internal/run"
	"backend-teamrun/internal/stream"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub
	Rooms  *room.Coordinator
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	notifier := ranking.NewNotifier()
	wait := time.Duration(s.Cfg.RankingWaitMS) * time.Millisecond

	runSvc := run.NewService(s.DB, s.Stream, notifier)
	eventSvc := event.NewService(s.DB)
	rankingSvc := ranking.NewService(runSvc, eventSvc, notifier)
	s.Rooms = room.NewCoordinator(
		s.Cfg.RoomCapacity,
		time.Duration(s.Cfg.RoomCountdownMS)*time.Millisecond,
		s.Stream, notifier,
	)

	run.RegisterRoutes(s.App.Group("/run"), runSvc, jwtMiddleware)

	roomGroup := s.App.Group("/room")
	room.RegisterRoutes(roomGroup, s.Rooms, jwtMiddleware)
	ranking.RegisterRoomRoutes(roomGroup, rankingSvc, wait, jwtMiddleware)

	eventGroup := s.App.Group("/event")
	event.RegisterRoutes(eventGroup, eventSvc, jwtMiddleware)
	ranking.RegisterEventRoutes(eventGroup, rankingSvc, wait, jwtMiddleware)

	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
