package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"room-relay/internal/chat"
	"room-relay/internal/config"
	"room-relay/internal/db"
	apihttp "room-relay/internal/http"
	"room-relay/internal/repository"
	"room-relay/internal/service"
	"room-relay/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var (
		pool        *pgxpool.Pool
		messageRepo repository.MessageRepository
		userRepo    repository.UserRepository
	)

	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
		userRepo = repository.NewPgUserRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set, users are kept in memory")
		userRepo = repository.NewMemoryUserRepository()
	}

	switch strings.ToLower(cfg.HistoryBackend) {
	case "postgres":
		if pool == nil {
			logger.Fatal("history backend postgres requires DATABASE_URL")
		}
		messageRepo = repository.NewPgMessageRepository(pool)
	case "badger":
		bdb, err := badger.Open(badger.DefaultOptions(cfg.BadgerPath).WithLogger(nil))
		if err != nil {
			logger.Fatal("badger open", zap.String("path", cfg.BadgerPath), zap.Error(err))
		}
		defer bdb.Close()
		messageRepo = repository.NewBadgerMessageRepository(bdb)
	case "memory":
		messageRepo = repository.NewMemoryMessageRepository()
	default:
		logger.Fatal("unknown history backend", zap.String("backend", cfg.HistoryBackend))
	}
	logger.Info("history backend ready", zap.String("backend", cfg.HistoryBackend))

	var (
		limiter    chat.RateLimiter
		tokenStore service.RefreshTokenStore
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			tokenStore = service.NewRedisRefreshTokenStore(redisClient)
			if rl := service.NewRedisMessageRateLimiter(redisClient, cfg.RateLimitWindow, cfg.RateLimitMessages); rl != nil {
				limiter = rl
			}
		}
		cancel()
	}
	if tokenStore == nil {
		tokenStore = service.NewMemoryRefreshTokenStore()
	}

	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		tokenStore,
	)

	var uploader storage.AssetUploader = storage.DisabledUploader{}
	if cfg.CloudinaryURL != "" {
		cld, err := storage.NewCloudinaryUploader(cfg.CloudinaryURL, cfg.UploadFolder)
		if err != nil {
			logger.Warn("cloudinary init failed", zap.Error(err))
		} else {
			uploader = cld
		}
	}

	userSvc := service.NewUserService(logger, userRepo)
	messageSvc := service.NewMessageService(messageRepo)

	hub := chat.NewHub(chat.Deps{
		Verifier: jwtSvc,
		History:  messageSvc,
		Limiter:  limiter,
		Logger:   logger,
	}, chat.Options{
		AuthTimeout:     cfg.AuthTimeout,
		HistoryLimit:    cfg.HistoryLimit,
		SendBuffer:      cfg.SendBuffer,
		MaxMessageRunes: cfg.MaxMessageRunes,
		MaxDecodeErrors: cfg.MaxDecodeErrors,
	})

	router := apihttp.NewRouter(logger, apihttp.RouterDeps{
		JWT:            jwtSvc,
		AllowedOrigins: cfg.AllowedOrigins,
		Users:          apihttp.NewUserHandler(logger, userSvc, jwtSvc),
		Chat:           apihttp.NewChatHandler(logger, hub),
		Upload:         apihttp.NewUploadHandler(logger, uploader, userSvc, cfg.UploadMaxBytes),
		WS: apihttp.NewWSHandler(logger, hub, apihttp.WSOptions{
			WriteTimeout:   cfg.WriteTimeout,
			PongWait:       cfg.PongWait,
			PingInterval:   cfg.PingInterval,
			MaxFrameBytes:  cfg.MaxFrameBytes,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Las conexiones hijacked no las cierra Shutdown; el hub lo hace.
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	<-shutdownDone
}
