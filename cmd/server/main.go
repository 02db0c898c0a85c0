package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/catalog"
	"github.com/cinedb/cinedb/internal/config"
	"github.com/cinedb/cinedb/internal/database"
	"github.com/cinedb/cinedb/internal/feed"
	"github.com/cinedb/cinedb/internal/handler"
	"github.com/cinedb/cinedb/internal/identity"
	"github.com/cinedb/cinedb/internal/middleware"
	"github.com/cinedb/cinedb/internal/model"
	"github.com/cinedb/cinedb/internal/repository"
	"github.com/cinedb/cinedb/internal/router"
	"github.com/cinedb/cinedb/internal/session"
	"github.com/cinedb/cinedb/internal/storage"
)

// redisPinger adapts a Redis client to handler.Pinger.
type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) PingContext(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	cacheCfg := config.LoadCacheConfig()
	rlCfg := config.LoadRateLimitConfig()
	sessCfg := config.LoadSessionConfig()
	feedCfg := config.LoadFeedConfig()
	storeCfg := config.LoadStorageConfig()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	if cfg.Env == "dev" {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.WithError(err).Fatal("open database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		logger.WithError(err).Fatal("migrate database")
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	profiles := repository.NewProfileRepo(db)
	movies := repository.NewMovieRepo(db)
	ratings := repository.NewRatingRepo(db)
	comments := repository.NewCommentRepo(db)
	forum := repository.NewForumRepo(db)

	ready := map[string]handler.Pinger{"mysql": db}
	rdb := config.NewRedisClient(logger)
	var (
		mirror session.Mirror
		recent repository.RecentViews
	)
	if rdb != nil {
		defer rdb.Close()
		ready["redis"] = redisPinger{rdb}
		mirror = session.NewRedisMirror(rdb, sessCfg.MirrorPrefix, sessCfg.MirrorTTL)
		recent = repository.NewRedisRecentViews(rdb, "cinedb:recent", sessCfg.RecentLimit)
	} else {
		mirror = session.NewMemoryMirror()
		recent = repository.NewMemoryRecentViews(sessCfg.RecentLimit)
	}

	// Change feed: writes go to RabbitMQ and come back to every instance's
	// hub through the consumer.  Without a broker the hub publishes locally.
	hub := feed.NewHub(logger)
	go func() { _ = hub.Run(ctx) }()
	var publisher feed.Publisher = hub
	if feedCfg.Enabled {
		amqpPub := feed.NewAMQPPublisher(feedCfg.URL, feedCfg.Exchange, logger)
		defer amqpPub.Close()
		publisher = amqpPub
	}
	changes := handler.Changes{
		Publisher: publisher,
		Cache:     middleware.NewCachePurger(cacheCfg, rdb, logger),
		Log:       logger,
	}

	view := catalog.NewView()
	movieHandler := &handler.MovieHandler{
		Movies: movies, View: view, Recent: recent, Changes: changes,
		AdminEmail: cfg.AdminEmail, Log: logger,
	}
	commentHandler := &handler.CommentHandler{
		Comments: comments, Movies: movies, Changes: changes,
		AdminEmail: cfg.AdminEmail, Log: logger,
	}
	hub.Listen(func(ch feed.Change) {
		if err := view.Apply(ch); err != nil {
			logger.WithError(err).Warn("catalog view rejected change")
		}
	})
	hub.Listen(commentHandler.Apply)
	if feedCfg.Enabled {
		consumer := &feed.Consumer{
			URL:      feedCfg.URL,
			Exchange: feedCfg.Exchange,
			Queue:    feedCfg.Queue,
			Target:   hub,
			Log:      logger,
			OnConnect: func(ctx context.Context) {
				if err := movieHandler.Reload(ctx); err != nil {
					logger.WithError(err).Warn("catalog resync failed")
				}
				commentHandler.Reset()
			},
		}
		go func() { _ = consumer.Run(ctx) }()
	}

	provider := identity.NewLocal(users, tokens, identity.Options{
		Secret:         cfg.JWTSecret,
		AccessTTLMin:   cfg.AccessTTLMin,
		RefreshTTLDays: cfg.RefreshTTLDays,
		BcryptCost:     cfg.BcryptCost,
	}, logger)
	if err := seedAdmin(ctx, cfg, provider, profiles, logger); err != nil {
		logger.WithError(err).Fatal("seed admin")
	}

	sessions := session.NewManager(session.Deps{
		Provider:   provider,
		Profiles:   profiles,
		Mirror:     mirror,
		Notifier:   hub,
		AdminEmail: cfg.AdminEmail,
		Log:        logger,
	})
	defer sessions.Close()
	if sessCfg.IdleEnabled {
		watcher := &session.IdleWatcher{
			Manager:  sessions,
			Mirror:   mirror,
			Notifier: hub,
			Timeout:  sessCfg.IdleTimeout,
			Interval: sessCfg.CheckInterval,
			Log:      logger,
		}
		go func() { _ = watcher.Run(ctx) }()
	}

	avatars, err := storage.NewAvatars(ctx, storeCfg)
	if err != nil {
		logger.WithError(err).Fatal("avatar storage")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins:  cfg.AllowedOrigins,
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization, middleware.DeviceHeader},
		ExposeHeaders: []string{middleware.DeviceHeader},
	}))
	e.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURI:      true,
		LogRemoteIP: true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"status":    v.Status,
				"method":    v.Method,
				"uri":       v.URI,
				"ip":        v.RemoteIP,
				"latency":   v.Latency.String(),
				"device_id": middleware.DeviceID(c),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))
	e.Use(middleware.Device())

	authRL := rlCfg
	authRL.Capacity = rlCfg.AuthCapacity
	authRL.Prefix = rlCfg.Prefix + ":auth"

	router.RegisterRoutes(e, ready)
	router.RegisterAPI(e, router.Handlers{
		Auth:     handler.NewAuthHandler(sessions, logger),
		Movies:   movieHandler,
		Ratings:  &handler.RatingHandler{Ratings: ratings, Movies: movies, Changes: changes, Log: logger},
		Comments: commentHandler,
		Forum:    &handler.ForumHandler{Forum: forum, Changes: changes, Log: logger},
		Profiles: &handler.ProfileHandler{
			Profiles: profiles, Avatars: avatars, Changes: changes, MinAge: cfg.MinAge, Log: logger,
		},
	}, router.Options{
		JWTSecret:  cfg.JWTSecret,
		AdminEmail: cfg.AdminEmail,
		Cache:      cacheMiddleware(cacheCfg, rdb),
		Limit:      middleware.NewTokenBucket(rlCfg, rdb),
		AuthLimit:  middleware.NewTokenBucket(authRL, rdb),
	})
	router.RegisterLive(e, &handler.LiveHandler{Hub: hub, AllowedOrigins: cfg.AllowedOrigins, Log: logger})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.WithFields(logrus.Fields{"addr": server.Addr, "env": cfg.Env}).Info("server started")
		if err := e.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
}

func cacheMiddleware(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return nil
	}
	return middleware.NewRedisCache(cfg, rdb)
}

// seedAdmin creates the configured admin account on first start and makes
// sure its profile carries the admin role.  Without ADMIN_PASSWORD only the
// sentinel email check applies.
func seedAdmin(ctx context.Context, cfg config.Config, p *identity.Local, profiles *repository.ProfileRepo, log logrus.FieldLogger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}
	id, created, err := p.EnsureAccount(ctx, cfg.AdminEmail, cfg.AdminPassword, map[string]string{"name": "admin"})
	if err != nil {
		return err
	}
	if err := profiles.Ensure(ctx, id, "admin", cfg.AdminEmail); err != nil {
		return err
	}
	if err := profiles.SetUserType(ctx, id, model.UserTypeAdmin); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"user_id": id, "created": created}).Info("admin account ready")
	return nil
}

