package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mahilo/registry/internal/agent"
	"github.com/mahilo/registry/internal/api"
	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/bootstrap"
	"github.com/mahilo/registry/internal/config"
	"github.com/mahilo/registry/internal/contextapi"
	"github.com/mahilo/registry/internal/delivery"
	"github.com/mahilo/registry/internal/graph"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/identity"
	"github.com/mahilo/registry/internal/message"
	"github.com/mahilo/registry/internal/notify"
	"github.com/mahilo/registry/internal/policy"
	"github.com/mahilo/registry/internal/ratelimit"
	"github.com/mahilo/registry/internal/router"
	"github.com/mahilo/registry/internal/sqlitestore"
	"github.com/mahilo/registry/internal/user"
	"github.com/mahilo/registry/internal/valkey"
)

// server holds the shared dependencies used by route handlers and middleware.
type server struct {
	cfg         *config.Config
	limiter     *ratelimit.Limiter
	identSvc    *identity.Service
	authHandler *api.AuthHandler
	agentH      *api.AgentHandler
	friendH     *api.FriendHandler
	contactsH   *api.ContactsHandler
	roleH       *api.RoleHandler
	groupH      *api.GroupHandler
	policyH     *api.PolicyHandler
	messageH    *api.MessageHandler
	prefsH      *api.PreferencesHandler
	contextH    *api.ContextHandler
	healthH     *api.HealthHandler
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.ServerEnv).Msg("Starting mahilo registry")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	db, err := sqlitestore.Connect(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("connect sqlite: %w", err)
	}
	defer db.Close()
	log.Info().Str("path", cfg.DatabasePath).Msg("SQLite connected")

	if err := sqlitestore.Migrate(db, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	// Valkey is optional: when VALKEY_URL is unset, rdb stays nil and notify.Publisher degrades every Publish call
	// to a no-op rather than refusing to boot. A single-operator deployment with no UI/bot subscriber has no reason
	// to run a second service just to satisfy a registry that never needed it.
	var rdb *redis.Client
	if cfg.ValkeyConfigured() {
		rdb, err = valkey.Connect(ctx, cfg.ValkeyURL, 5*time.Second)
		if err != nil {
			return fmt.Errorf("connect valkey: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		log.Info().Msg("Valkey connected")
	} else {
		log.Warn().Msg("VALKEY_URL is not configured. Real-time notifications are disabled.")
	}

	userRepo := user.NewSQLiteRepository(db, log.Logger)
	agentRepo := agent.NewSQLiteRepository(db, log.Logger)
	friendshipRepo := graph.NewSQLiteFriendshipRepository(db, log.Logger)
	groupRepo := graph.NewSQLiteGroupRepository(db, log.Logger)
	roleRepo := graph.NewSQLiteRoleRepository(db, log.Logger)
	policyRepo := policy.NewSQLiteRepository(db, log.Logger)
	messageRepo := message.NewSQLiteRepository(db, log.Logger)

	if err := bootstrap.SeedSystemRoles(ctx, roleRepo, log.Logger); err != nil {
		return fmt.Errorf("seed system roles: %w", err)
	}
	log.Info().Msg("System roles seeded")

	authz := graph.NewAuthorizer(friendshipRepo, groupRepo)

	identSvc, err := identity.NewService(userRepo, cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("create identity service: %w", err)
	}

	llmEvaluator := policy.NewNoopLLMEvaluator(log.Logger)
	policyEngine := policy.NewEngine(llmEvaluator, log.Logger)

	rt := router.New(userRepo, agentRepo, authz, groupRepo, friendshipRepo, messageRepo, log.Logger)

	sender := delivery.NewSender(cfg.CallbackTimeout)
	worker := delivery.NewWorker(messageRepo, agentRepo, userRepo, groupRepo, sender,
		cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryPollInterval, log.Logger)

	notifier := notify.NewPublisher(rdb, log.Logger)
	contextSvc := contextapi.New(userRepo, friendshipRepo, policyRepo, messageRepo)
	limiterSvc := ratelimit.New(cfg.RateLimitPerMinute)
	targetChecker := api.NewGraphTargetChecker(userRepo, groupRepo, roleRepo, authz)

	srv := &server{
		cfg:         cfg,
		limiter:     limiterSvc,
		identSvc:    identSvc,
		authHandler: api.NewAuthHandler(userRepo, identSvc, log.Logger),
		agentH:      api.NewAgentHandler(agentRepo, cfg.AllowPrivateCallbackHosts, log.Logger),
		friendH:     api.NewFriendHandler(friendshipRepo, userRepo, notifier, log.Logger),
		contactsH:   api.NewContactsHandler(userRepo, agentRepo, authz, log.Logger),
		roleH:       api.NewRoleHandler(roleRepo, log.Logger),
		groupH:      api.NewGroupHandler(groupRepo, userRepo, authz, notifier, log.Logger),
		policyH:     api.NewPolicyHandler(policyRepo, targetChecker, log.Logger),
		messageH: api.NewMessageHandler(rt, worker, messageRepo, policyRepo, friendshipRepo, policyEngine,
			notifier, cfg.TrustedMode, cfg.MaxPayloadBytes, log.Logger),
		prefsH:   api.NewPreferencesHandler(userRepo, log.Logger),
		contextH: api.NewContextHandler(contextSvc, log.Logger),
		healthH:  api.NewHealthHandler(db),
	}

	// Background delivery retry loop. Worker.Run already loops forever on its own ticker and never returns except
	// on context cancellation, so it is launched directly rather than wrapped in a restart-on-error supervisor.
	workerCtx, workerCancel := context.WithCancel(ctx)
	go worker.Run(workerCtx)

	app := fiber.New(fiber.Config{
		AppName:   "mahilo-registry",
		BodyLimit: cfg.MaxPayloadBytes * 2,
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			msg := "An internal error occurred"
			apiCode := apierrors.Internal
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
				msg = fe.Message
				apiCode = fiberStatusToAPICode(fe.Code)
			} else {
				log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorBody{Error: apiCode, Message: msg})
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Mahilo-Agent"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))
	// Blanket per-IP ceiling in front of the per-principal internal/ratelimit.Limiter registered per route group
	// below: this catches unauthenticated floods (e.g. repeated failed /auth/register attempts) that never reach a
	// resolved principal, while the per-principal limiter governs authenticated traffic precisely.
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitPerMinute * 4,
		Expiration: time.Minute,
	}))

	srv.registerRoutes(app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		workerCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (s *server) registerRoutes(root *fiber.App) {
	app := root.Group("/api/v1")
	requireAuth := identity.RequireAuth(s.identSvc)
	rl := s.limiter.Middleware()

	app.Get("/health", s.healthH.Get)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", s.authHandler.Register)
	authGroup.Post("/verify/:userId", s.authHandler.VerifyPost)
	authGroup.Get("/verify/:userId", s.authHandler.VerifyGet)
	authGroup.Post("/rotate-key", requireAuth, rl, s.authHandler.RotateKey)
	authGroup.Get("/me", requireAuth, rl, s.authHandler.Me)

	agentGroup := app.Group("/agents", requireAuth, rl)
	agentGroup.Post("/", s.agentH.Register)
	agentGroup.Get("/", s.agentH.List)
	agentGroup.Delete("/:id", s.agentH.Delete)
	agentGroup.Post("/:id/ping", s.agentH.Ping)

	friendGroup := app.Group("/friends", requireAuth, rl)
	friendGroup.Post("/request", s.friendH.Request)
	friendGroup.Get("/", s.friendH.List)
	friendGroup.Post("/:id/accept", s.friendH.Accept)
	friendGroup.Post("/:id/reject", s.friendH.Reject)
	friendGroup.Post("/:id/block", s.friendH.Block)
	friendGroup.Delete("/:id", s.friendH.Delete)
	friendGroup.Get("/:friendshipId/roles", s.friendH.ListRoles)
	friendGroup.Post("/:friendshipId/roles", s.friendH.AssignRole)
	friendGroup.Delete("/:friendshipId/roles/:role", s.friendH.RemoveRole)

	contactsGroup := app.Group("/contacts", requireAuth, rl)
	contactsGroup.Get("/:username/connections", s.contactsH.Connections)

	roleGroup := app.Group("/roles", requireAuth, rl)
	roleGroup.Get("/", s.roleH.List)
	roleGroup.Post("/", s.roleH.Create)

	groupGroup := app.Group("/groups", requireAuth, rl)
	groupGroup.Post("/", s.groupH.Create)
	groupGroup.Get("/", s.groupH.List)
	groupGroup.Get("/:id", s.groupH.Get)
	groupGroup.Post("/:id/invite", s.groupH.Invite)
	groupGroup.Post("/:id/join", s.groupH.Join)
	groupGroup.Delete("/:id/leave", s.groupH.Leave)
	groupGroup.Post("/:id/transfer", s.groupH.Transfer)
	groupGroup.Delete("/:id", s.groupH.Delete)
	groupGroup.Get("/:id/members", s.groupH.Members)

	policyGroup := app.Group("/policies", requireAuth, rl)
	policyGroup.Post("/", s.policyH.Create)
	policyGroup.Get("/", s.policyH.List)
	policyGroup.Patch("/:id", s.policyH.Update)
	policyGroup.Delete("/:id", s.policyH.Delete)
	policyGroup.Get("/context/:username", s.contextH.Get)

	messageGroup := app.Group("/messages", requireAuth, rl)
	messageGroup.Post("/send", s.messageH.Send)
	messageGroup.Get("/", s.messageH.History)

	prefsGroup := app.Group("/preferences", requireAuth, rl)
	prefsGroup.Get("/", s.prefsH.Get)
	prefsGroup.Patch("/", s.prefsH.Update)

	// Catch-all handler returns 404 for any request that does not match a defined route. Fiber v3 treats app.Use()
	// middleware as a route match, so without this terminal handler the router considers unmatched requests
	// "handled" and returns the default 200 status with an empty body.
	root.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// fiberStatusToAPICode maps an HTTP status code from Fiber's built-in errors (404, 405, etc.) to the closest
// registry error code.
func fiberStatusToAPICode(status int) apierrors.Code {
	switch status {
	case fiber.StatusNotFound:
		return apierrors.NotFound
	case fiber.StatusMethodNotAllowed:
		return apierrors.Validation
	case fiber.StatusTooManyRequests:
		return apierrors.RateLimited
	case fiber.StatusRequestEntityTooLarge:
		return apierrors.PayloadTooLarge
	default:
		if status >= 400 && status < 500 {
			return apierrors.Validation
		}
		return apierrors.Internal
	}
}
