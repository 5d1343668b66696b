package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"

	"github.com/Saidelocha/lepitch-funnel/pkg/abuse"
	"github.com/Saidelocha/lepitch-funnel/pkg/config"
	"github.com/Saidelocha/lepitch-funnel/pkg/conversation"
	"github.com/Saidelocha/lepitch-funnel/pkg/errx"
	"github.com/Saidelocha/lepitch-funnel/pkg/funnel"
	"github.com/Saidelocha/lepitch-funnel/pkg/logx"
	"github.com/Saidelocha/lepitch-funnel/pkg/notify"
	"github.com/Saidelocha/lepitch-funnel/pkg/ratelimit"
	"github.com/Saidelocha/lepitch-funnel/pkg/session"
)

const Version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logx.Fatal().Err(err).Msg("load configuration")
	}
	logx.Init(logx.ParseEnvironment(cfg.Env))

	overrides, err := config.LoadOverrides(cfg.PolicyFile)
	if err != nil {
		logx.Fatal().Err(err).Msg("load policy overrides")
	}

	svc, cleanup := buildService(cfg, overrides)
	defer cleanup()

	app := fiber.New(fiber.Config{
		AppName: "LePitch Funnel",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	// One user turn: the message passes the anti-abuse pipeline before it
	// may advance the conversation.
	app.Post("/chat/:sessionID/message", func(c fiber.Ctx) error {
		var req struct {
			Message string `json:"message"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		resp, err := svc.HandleMessage(c.Context(), clientIdentity(c), c.Params("sessionID"), req.Message)
		if err != nil {
			return writeError(c, err)
		}
		c.Set("X-RateLimit-Remaining", strconv.Itoa(resp.RateRemaining))
		return c.JSON(resp)
	})

	// Read-only view of the conversation.
	app.Get("/chat/:sessionID", func(c fiber.Ctx) error {
		snap, err := svc.FetchSession(c.Params("sessionID"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{
			"state":     snap.State(),
			"goals":     snap.Goals,
			"collected": snap.Collected,
			"messages":  snap.Messages,
		})
	})

	// Structured survey; the only path to a completed, qualified lead.
	app.Post("/chat/:sessionID/survey", func(c fiber.Ctx) error {
		var sub funnel.Submission
		if err := c.Bind().Body(&sub); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		resp, err := svc.SubmitSurvey(c.Context(), clientIdentity(c), c.Params("sessionID"), sub)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(resp)
	})

	app.Get("/admin/stats", func(c fiber.Ctx) error {
		stats, err := svc.AdminStats(clientIdentity(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(stats)
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logx.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logx.Error().Err(err).Msg("shutdown")
		}
	}()

	logx.Info().Str("addr", cfg.Addr).Msg("funnel service starting")
	if err := app.Listen(cfg.Addr); err != nil {
		logx.Fatal().Err(err).Msg("server stopped")
	}
}

// buildService assembles the pipeline from configuration. The returned
// cleanup closes the service and any external sinks.
func buildService(cfg *config.Config, overrides *config.Overrides) (*funnel.Service, func()) {
	limiter := ratelimit.New(overrides.Policies())
	monitor := abuse.NewMonitor()
	bans := abuse.NewBanManager()

	storeOpts := []session.StoreOption{
		session.WithMaxAge(cfg.SessionMaxAge),
		session.WithCleanupInterval(cfg.SweepInterval),
	}
	if cfg.WelcomeMessage != "" {
		storeOpts = append(storeOpts, session.WithWelcomeMessage(cfg.WelcomeMessage))
	}
	store := session.NewStore(storeOpts...)

	engineOpts := []conversation.EngineOption{
		conversation.WithInterpretTimeout(cfg.InterpretTimeout),
	}
	if short, long := overrides.BanDurations(); short > 0 || long > 0 {
		engineOpts = append(engineOpts, conversation.WithBanDurations(short, long))
	}
	engine := conversation.NewEngine(conversation.NewHeuristicInterpreter(), engineOpts...)

	sinks := []notify.Notifier{notify.LogNotifier{}}
	var closers []func()

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logx.Fatal().Err(err).Msg("parse redis url")
		}
		client := redis.NewClient(redisOpts)
		sinks = append(sinks, notify.NewRedisNotifier(client, notify.WithQueueKey(cfg.LeadQueueKey)))
		closers = append(closers, func() { _ = client.Close() })
		logx.Info().Str("queue", cfg.LeadQueueKey).Msg("redis lead queue enabled")
	}

	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		archiver, err := notify.NewArchiver(ctx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			logx.Fatal().Err(err).Msg("connect lead archive")
		}
		sinks = append(sinks, archiver)
		closers = append(closers, archiver.Close)
		logx.Info().Msg("postgres lead archive enabled")
	}

	svc := funnel.New(store, engine, limiter, monitor, bans,
		funnel.WithNotifier(notify.NewFanout(sinks...)),
		funnel.WithDispatchCapacity(cfg.MaxInFlightNotifies),
		funnel.WithSweepInterval(cfg.SweepInterval),
	)

	return svc, func() {
		svc.Close()
		for _, fn := range closers {
			fn()
		}
	}
}

// clientIdentity derives the rate-limit and ban key for a request. Clients
// behind the same NAT can differentiate themselves with X-Client-Id.
func clientIdentity(c fiber.Ctx) string {
	if id := c.Get("X-Client-Id"); id != "" && len(id) <= 100 {
		return c.IP() + "#" + id
	}
	return c.IP()
}

// writeError translates the error taxonomy into a JSON response.
func writeError(c fiber.Ctx, err error) error {
	var appErr *errx.AppError
	if !errors.As(err, &appErr) {
		logx.Error().Err(err).Msg("unhandled error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	if appErr.Code == errx.CodeRateLimited && appErr.RetryAfter > 0 {
		secs := int(appErr.RetryAfter / time.Second)
		if appErr.RetryAfter%time.Second > 0 {
			secs++
		}
		c.Set("Retry-After", strconv.Itoa(secs))
	}

	body := fiber.Map{"error": appErr.Message, "code": appErr.Code}
	if len(appErr.Fields) > 0 {
		body["fields"] = appErr.Fields
	}
	return c.Status(errx.HTTPStatus(appErr.Code)).JSON(body)
}
