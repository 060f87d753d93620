package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync/internal/channel"
	"github.com/noah-isme/chatsync/internal/config"
	"github.com/noah-isme/chatsync/internal/conversation"
	"github.com/noah-isme/chatsync/internal/directory"
	"github.com/noah-isme/chatsync/internal/messaging"
	"github.com/noah-isme/chatsync/internal/models"
	"github.com/noah-isme/chatsync/internal/observability"
	"github.com/noah-isme/chatsync/internal/reaction"
	"github.com/noah-isme/chatsync/internal/search"
	"github.com/noah-isme/chatsync/internal/session"
	"github.com/noah-isme/chatsync/internal/store"
	"github.com/noah-isme/chatsync/internal/ui"
	"github.com/noah-isme/chatsync/pkg/uploader"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	documents, cleanup, err := openStore(cfg, logger)
	if err != nil {
		log.Fatalf("failed to open document store: %v", err)
	}
	defer cleanup()

	var opts []store.GatewayOption
	if cfg.ValidateSchemas {
		schemas, err := store.DefaultSchemas()
		if err != nil {
			log.Fatalf("failed to compile document schemas: %v", err)
		}
		opts = append(opts, store.WithSchemaValidation(schemas))
	}
	gateway := store.NewGateway(documents, logger, opts...)

	var avatarUploader directory.AvatarUploader
	if cfg.CloudinaryCloudName != "" {
		avatarUploader, err = uploader.New(uploader.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create avatar uploader: %v", err)
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	cache := directory.NewCache(gateway, cfg.SettleDelay, logger)
	users := directory.NewUsers(gateway, cache, avatarUploader, cfg.WelcomeChannelID)
	surface := ui.NewState(cfg.ConfirmDuration, cfg.ScrollDelay, logger)

	auth := session.NewStaticProvider()
	resolver := conversation.NewResolver(gateway, cache, auth, surface, logger)
	channels := channel.NewService(gateway, cache, auth, surface, validate, logger)
	router := messaging.NewRouter(gateway, resolver, channels, auth, surface, validate, logger)
	reactions := reaction.NewAggregator(gateway, cache, auth, logger)
	index := search.NewIndex(cache, auth, cfg.SearchWarmDelay, logger)

	lifecycle := session.NewLifecycle(auth, gateway, cache, users, logger)
	lifecycle.Start(context.Background())
	defer lifecycle.Stop()

	if cfg.IDToken != "" {
		identity, err := session.IdentityFromToken(cfg.IDToken)
		if err != nil {
			log.Fatalf("failed to parse identity token: %v", err)
		}
		auth.SignIn(identity)
		index.Warm()
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})
	registerStatusRoutes(app, gateway, cache)
	registerOpsRoutes(app, router, reactions, index)

	go func() {
		if err := app.Listen(cfg.StatusAddress()); err != nil {
			log.Fatalf("failed to start status server: %v", err)
		}
	}()

	waitForShutdown(app, logger)
}

// openStore builds the configured document store backend. The returned
// cleanup closes whatever connections the backend holds.
func openStore(cfg config.Config, logger zerolog.Logger) (store.DocumentStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(redisOpts)
		return store.NewRedis(client, cfg.KeyPrefix, logger), func() { _ = client.Close() }, nil

	case config.BackendGorm:
		notifier, closeNotifier, err := openNotifier(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		db, err := store.OpenGorm(cfg.DatabaseURL, notifier, logger)
		if err != nil {
			closeNotifier()
			return nil, nil, err
		}
		return db, closeNotifier, nil

	default:
		return store.NewMemory(), func() {}, nil
	}
}

// openNotifier returns the NATS change notifier when a URL is configured,
// otherwise an in-process one.
func openNotifier(cfg config.Config, logger zerolog.Logger) (store.Notifier, func(), error) {
	if cfg.NATSURL == "" {
		return store.NewLocalNotifier(), func() {}, nil
	}
	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, nil, err
	}
	return store.NewNATSNotifier(conn, cfg.KeyPrefix+".inval.", logger), conn.Close, nil
}

func registerStatusRoutes(app *fiber.App, gateway *store.Gateway, cache *directory.Cache) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"listeners":     gateway.ListenerCount(),
			"loading":       cache.Loading(),
			"users":         len(cache.Users()),
			"channels":      len(cache.Channels()),
			"conversations": len(cache.Conversations()),
			"threads":       len(cache.Threads()),
		})
	})
	app.Get("/metrics", observability.MetricsHandler())
}

// registerOpsRoutes exposes a thin operational surface over the sync core
// for local experiments against a running backend.
func registerOpsRoutes(app *fiber.App, router *messaging.Router, reactions *reaction.Aggregator, index *search.Index) {
	app.Post("/ops/send", func(c *fiber.Ctx) error {
		var in messaging.Input
		if err := c.BodyParser(&in); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := router.Send(c.Context(), in); err != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	app.Post("/ops/react", func(c *fiber.Ctx) error {
		var in struct {
			EmojiID string `json:"emojiId"`
			MsgID   string `json:"msgId"`
		}
		if err := c.BodyParser(&in); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := reactions.ToggleReaction(c.Context(), in.EmojiID, models.Message{MsgID: in.MsgID}); err != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	app.Get("/ops/search", func(c *fiber.Ctx) error {
		index.Rebuild()
		return c.JSON(fiber.Map{"entries": index.Filter(c.Query("q"))})
	})
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("sync core stopped")
}
