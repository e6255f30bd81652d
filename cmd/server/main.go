package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pytake/backend/internal/aggregator"
	"github.com/pytake/backend/internal/api"
	"github.com/pytake/backend/internal/assignment"
	"github.com/pytake/backend/internal/auth"
	"github.com/pytake/backend/internal/config"
	"github.com/pytake/backend/internal/directory"
	"github.com/pytake/backend/internal/events"
	"github.com/pytake/backend/internal/ingestion"
	"github.com/pytake/backend/internal/metrics"
	"github.com/pytake/backend/internal/notification"
	"github.com/pytake/backend/internal/platform"
	"github.com/pytake/backend/internal/queue"
	"github.com/pytake/backend/internal/reload"
	"github.com/pytake/backend/internal/routing"
	"github.com/pytake/backend/internal/rules"
	"github.com/pytake/backend/internal/storage"
	"github.com/pytake/backend/internal/templates"
	"github.com/pytake/backend/internal/websocket"
	"github.com/pytake/backend/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "pytake-backend"

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Str("directory_mode", cfg.DirectoryMode).
		Bool("auth_enabled", cfg.AuthEnabled()).
		Msg("starting PyTake backend server")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(log.Logger)

	// Conversation store
	store, err := storage.NewStore(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create conversation store")
	}

	// Agent directory
	agents, closeDirectory, err := openDirectory(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open agent directory")
	}
	defer closeDirectory()

	// Redis is optional; it carries cross-replica fanout and webchat rooms
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = events.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	}

	// Background job queue for broker publishes and notification delivery
	jobs := queue.New(cfg.QueueBuffer, queue.Backoff{
		Initial:    cfg.QueueRetryBase,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}, log.Logger)
	jobs.SetObserver(m)
	if err := jobs.Start(ctx, cfg.QueueWorkers); err != nil {
		log.Fatal().Err(err).Msg("failed to start job queue")
	}

	// Event bus
	producer := serviceName + "/" + uuid.NewString()[:8]
	var broker events.Publisher
	if cfg.AMQPURL != "" {
		broker, err = events.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
	} else {
		broker = events.NewFallback(log.Logger)
	}
	publishers := []events.Publisher{queue.NewPublisher(jobs, broker, cfg.QueueMaxRetries, cfg.CollaboratorTimeout)}
	var fanout *events.RedisPublisher
	if redisClient != nil {
		fanout = events.NewRedisPublisher(redisClient, cfg.RedisPrefix+"events:", log.Logger)
		publishers = append(publishers, fanout)
	}
	bus := events.NewBus(producer, log.Logger, publishers...)
	directory.NewLoadTracker(agents, log.Logger).Register(bus)

	// WebSocket hubs
	hub := websocket.NewHub(m, log.Logger)
	go hub.Run(ctx)

	// Notifications
	inbox, err := notification.NewInbox(cfg.InboxRecipients, cfg.InboxPerRecipient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create notification inbox")
	}
	notifier := notification.NewService(inbox, log.Logger)
	notifier.UseQueue(jobs, cfg.QueueMaxRetries)
	if redisClient != nil {
		notifier.RegisterDefault(notification.ChannelRedis, notification.NewRedisChannel(redisClient, cfg.RedisPrefix+"notifications:"))
	}

	// Platform clients
	platforms := platform.NewRegistry()
	if cfg.WhatsAppToken != "" {
		platforms.Register(platform.NewWhatsApp(platform.WhatsAppConfig{
			APIURL:        cfg.WhatsAppAPIURL,
			PhoneNumberID: cfg.WhatsAppPhoneNumberID,
			Token:         cfg.WhatsAppToken,
			Timeout:       cfg.CollaboratorTimeout,
		}, log.Logger))
	}
	if redisClient != nil {
		platforms.Register(platform.NewWebchat(redisClient, cfg.RedisPrefix+"webchat:"))
	}

	// Templates
	renderer, err := templates.NewRenderer(cfg.TemplateCacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create template renderer")
	}
	if cfg.TemplatesFile != "" {
		if err := renderer.LoadFile(cfg.TemplatesFile); err != nil {
			log.Fatal().Err(err).Str("file", cfg.TemplatesFile).Msg("failed to load templates")
		}
	}

	// Assignment rules and business hours
	hours, err := rules.ParseSchedule(cfg.BusinessHoursTZ, cfg.BusinessHoursDays, cfg.BusinessHoursOpen, cfg.BusinessHoursClose)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid business hours")
	}
	ruleSet, err := rules.NewRuleSet(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create rule set")
	}
	if cfg.RulesFile != "" {
		ruleSet, err = rules.LoadFile(cfg.RulesFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.RulesFile).Msg("failed to load assignment rules")
		}
	}
	engine := rules.NewEngine(ruleSet, hours, log.Logger)
	log.Info().Int("rules", ruleSet.Len()).Msg("assignment rules loaded")

	if cfg.WatchFiles && (cfg.RulesFile != "" || cfg.TemplatesFile != "") {
		watchFiles(ctx, cfg, engine, renderer)
	}

	// Routing
	orchestrator := routing.New(routing.Deps{
		Store:     store,
		Directory: agents,
		Selector:  assignment.NewSelector(agents, hours, log.Logger),
		Rules:     engine,
		Platforms: platforms,
		Templates: renderer,
		Notifier:  notifier,
		Metrics:   m,
		Events:    bus,
	}, routing.Config{
		CollaboratorTimeout:  cfg.CollaboratorTimeout,
		RespectBusinessHours: cfg.RespectBusinessHours,
	}, log.Logger)

	sweeper := routing.NewSweeper(orchestrator, cfg.SweepInterval, cfg.SweepBatch, log.Logger)
	go sweeper.Start(ctx)

	// Agent connections and presence
	presence := directory.NewPresence()
	processor := ingestion.NewDefaultProcessor(presence, agents, orchestrator, log.Logger)
	agentHub := websocket.NewAgentHub(processor, m, log.Logger)
	go agentHub.Run(ctx)
	monitor := ingestion.NewMonitor(presence, agents, orchestrator, cfg.PresenceSweep, log.Logger)
	go monitor.Start(ctx)

	notifier.Register(notification.ChannelWebsocket, notification.NewWebsocketChannel(agentHub, hub))

	// Forward routing events to sockets
	agentHub.ForwardAssignments(bus)
	hub.ForwardEvents(bus, orchestrator)
	if fanout != nil {
		// Events from other replicas reach only the sockets, never the local load tracker
		remote := events.NewBus(producer, log.Logger)
		agentHub.ForwardAssignments(remote)
		hub.ForwardEvents(remote, orchestrator)
		err := fanout.Subscribe(ctx, func(env events.Envelope) {
			if env.Meta.Producer != nil && *env.Meta.Producer == producer {
				return
			}
			remote.Deliver(ctx, env)
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe to event fanout")
		}
	}

	// Dashboard snapshots
	aggregatorService := aggregator.NewAggregator(agents, hub, m, time.Second, log.Logger)
	go aggregatorService.Start(ctx)

	authenticator := auth.New(auth.Options{Secret: cfg.JWTSecret, Issuer: cfg.OIDCIssuer}, log.Logger)
	if !authenticator.Enabled() {
		log.Warn().Msg("JWT_SECRET and OIDC_ISSUER are empty, API auth is disabled")
	}

	r := newRouter(cfg, routes{
		auth:          authenticator,
		metrics:       m,
		dashboard:     websocket.NewHandler(hub, cfg, log.Logger),
		agentSockets:  websocket.NewAgentHandler(agentHub, cfg.AllowedOrigins, log.Logger),
		webhook:       api.NewWebhookHandler(orchestrator, log.Logger),
		conversations: api.NewConversationsHandler(orchestrator, log.Logger),
		agents:        api.NewAgentActionsHandler(agents, orchestrator, agentHub, presence, log.Logger),
		history:       api.NewAgentHistoryHandler(store, log.Logger),
		roster:        api.NewRosterHandler(agents, log.Logger),
		rules:         api.NewRulesHandler(engine, log.Logger),
		notifications: api.NewNotificationsHandler(notifier, log.Logger),
		admin:         api.NewAdminHandler(sweeper, engine, renderer, cfg.RulesFile, cfg.TemplatesFile, log.Logger),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop background loops
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := jobs.Stop(10 * time.Second); err != nil {
		log.Warn().Err(err).Msg("job queue did not drain")
	}
	if err := bus.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close event publishers")
	}

	log.Info().Msg("server stopped")
}

// openDirectory builds the agent directory selected by DIRECTORY_MODE,
// fronted by a short-lived snapshot cache
func openDirectory(cfg *config.Config) (directory.Directory, func(), error) {
	var (
		base    directory.Directory
		closeFn = func() {}
	)
	switch cfg.DirectoryMode {
	case "sqlite":
		db, err := directory.OpenSQLite(cfg.DirectoryDSN)
		if err != nil {
			return nil, nil, err
		}
		base = db
		closeFn = func() {
			if err := db.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close agent directory")
			}
		}
	default:
		base = directory.NewMemory()
	}

	if cfg.DirectoryCacheTTL <= 0 {
		return base, closeFn, nil
	}
	cached, err := directory.NewCached(base, cfg.DirectoryCacheTTL)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return cached, func() {
		cached.Close()
		closeFn()
	}, nil
}

// routes bundles the handlers mounted by newRouter
type routes struct {
	auth          *auth.Authenticator
	metrics       *metrics.Metrics
	dashboard     http.Handler
	agentSockets  http.Handler
	webhook       *api.WebhookHandler
	conversations *api.ConversationsHandler
	agents        *api.AgentActionsHandler
	history       *api.AgentHistoryHandler
	roster        *api.RosterHandler
	rules         *api.RulesHandler
	notifications *api.NotificationsHandler
	admin         *api.AdminHandler
}

// watchFiles reloads the rules and templates files when they change on disk.
// A broken edit is logged and the previous version stays active.
func watchFiles(ctx context.Context, cfg *config.Config, engine *rules.Engine, renderer *templates.Renderer) {
	w, err := reload.New(cfg.WatchDebounce, log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("file watching disabled")
		return
	}
	if cfg.RulesFile != "" {
		if err := w.Add(cfg.RulesFile, func() error { return engine.Reload(cfg.RulesFile) }); err != nil {
			log.Warn().Err(err).Msg("not watching rules file")
		}
	}
	if cfg.TemplatesFile != "" {
		if err := w.Add(cfg.TemplatesFile, func() error { return renderer.LoadFile(cfg.TemplatesFile) }); err != nil {
			log.Warn().Err(err).Msg("not watching templates file")
		}
	}
	go w.Run(ctx)
}

func newRouter(cfg *config.Config, h routes) chi.Router {
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(h.metrics.Instrument)

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Handle("/metrics", h.metrics.Handler())
	r.Post("/webhooks/{platform}/messages", h.webhook.HandleMessage)

	// Internal routes (no auth - for provisioning jobs inside the cluster)
	r.Route("/internal", func(r chi.Router) {
		r.Post("/agents/roster", h.roster.HandleRoster)
		r.Get("/webhooks/stats", h.webhook.GetStats)
	})

	// Add auth middleware for protected routes
	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)
		r.Get("/ws", h.dashboard.ServeHTTP)
		r.Get("/ws/agent", h.agentSockets.ServeHTTP)

		r.Route("/api", func(r chi.Router) {
			r.Route("/agents", func(r chi.Router) {
				r.Get("/", h.agents.List)
				r.Get("/{agentId}", h.agents.Get)
				r.Post("/{agentId}/status", h.agents.SetStatus)
				r.Get("/{agentId}/conversations", h.history.GetConversations)
				r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleSupervisor)).Post("/{agentId}/logout", h.agents.Logout)
			})

			r.Route("/conversations/{id}", func(r chi.Router) {
				r.Get("/", h.conversations.Get)
				r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleSupervisor)).Post("/assign", h.conversations.Assign)
				r.Post("/transfer", h.conversations.Transfer)
				r.Post("/escalate", h.conversations.Escalate)
				r.Post("/status", h.conversations.SetStatus)
				r.Post("/messages", h.conversations.SendMessage)
				r.Post("/typing", h.conversations.Typing)
			})

			r.Get("/rules", h.rules.List)
			r.Post("/rules/evaluate", h.rules.Evaluate)

			r.Get("/notifications/{recipient}", h.notifications.List)
			r.Post("/notifications/{recipient}/{id}/read", h.notifications.MarkRead)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Post("/sweep", h.admin.Sweep)
				r.Post("/rules/reload", h.admin.ReloadRules)
				r.Post("/templates/reload", h.admin.ReloadTemplates)
			})
		})
	})

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"%s"}`, serviceName)
}
