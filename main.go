package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"nlu-agent/api"
	"nlu-agent/dao"
	"nlu-agent/internal/aiclient"
	"nlu-agent/internal/config"
	"nlu-agent/internal/llm"
	"nlu-agent/model"
	"nlu-agent/route"
	"nlu-agent/service"
	"nlu-agent/service/flows"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

type app struct {
	chat   *service.ChatService
	deps   map[string]api.Pinger
	closer func() error
}

func buildApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	registry, err := service.LoadSlotRegistry(cfg.Dialogue.IntentsFile)
	if err != nil {
		return nil, fmt.Errorf("load intents: %w", err)
	}

	a := &app{deps: map[string]api.Pinger{}, closer: func() error { return nil }}

	var persister service.Persister
	if cfg.Redis.Enabled {
		redisStore := dao.NewRedisStore(dao.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		}, logger)
		persister = redisStore
		a.deps["redis"] = redisStore
		a.closer = redisStore.Close
	}

	weather := flows.NewWeatherClient(flows.WeatherConfig{
		BaseURL: cfg.Weather.BaseURL,
		APIKey:  cfg.Weather.APIKey,
		Timeout: cfg.Weather.Timeout,
	}, logger)
	music := flows.NewMusicClient(flows.MusicConfig{
		BaseURL: cfg.Music.BaseURL,
		Limit:   cfg.Music.Limit,
		Timeout: cfg.Music.Timeout,
	}, logger)
	search := flows.NewSearchClient(flows.SearchConfig{
		BaseURL: cfg.Search.BaseURL,
		APIKey:  cfg.Search.APIKey,
		Timeout: cfg.Search.Timeout,
	}, logger)
	devices := flows.NewDeviceRegistry()

	store := service.NewSessionStore(service.SessionStoreConfig{
		Registry:             registry,
		ShortAnswerMaxTokens: cfg.Dialogue.ShortAnswerMaxTokens,
		Persister:            persister,
		OnRemove:             devices.Forget,
		Logger:               logger,
	})

	var chatClient llm.ChatClient
	client, err := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		logger.Warn("LLM API key not set, open-ended replies use canned responses")
	case err != nil:
		return nil, fmt.Errorf("init llm client: %w", err)
	default:
		chatClient = client
	}

	tools := flows.NewToolExecutor(weather, music, devices, search, logger)
	handlers := service.HandlerRegistry{
		model.CategoryWeather: flows.NewWeatherHandler(weather, logger),
		model.CategoryMusic:   flows.NewMusicHandler(music, logger),
		model.CategoryIoT:     flows.NewIoTHandler(devices, logger),
		model.CategoryGeneral: flows.NewGeneralHandler(chatClient, tools, flows.GeneralConfig{
			MaxToolIterations: cfg.LLM.MaxToolIterations,
			HistoryWindow:     cfg.LLM.HistoryWindow,
		}, logger),
	}

	if cfg.Classifier.URL == "" {
		logger.Warn("Classifier URL not set, every input falls back to the open-ended handler")
	}
	classifier := aiclient.NewClient(aiclient.Config{
		URL:                 cfg.Classifier.URL,
		Timeout:             cfg.Classifier.Timeout,
		ConfidenceThreshold: cfg.Classifier.ConfidenceThreshold,
	}, logger)

	a.chat = service.NewChatService(service.ChatServiceConfig{
		Classifier:         classifier,
		Store:              store,
		Registry:           registry,
		Handlers:           handlers,
		MaxHandlerFailures: cfg.Dialogue.MaxHandlerFailures,
		Logger:             logger,
	})
	return a, nil
}

func newHTTPHandler(cfg *config.Config, a *app, logger *zap.Logger) http.Handler {
	gin.SetMode(cfg.Server.GinMode)
	r := gin.New()
	route.Register(r, a.chat, a.deps, logger)

	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", api.RequestIDHeader},
		ExposedHeaders:   []string{api.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})(r)
}

func run(cfg *config.Config, logger *zap.Logger) error {
	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.closer(); err != nil {
			logger.Warn("Failed to close session persister", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: newHTTPHandler(cfg, a, logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.chat.Store().RunSweeper(gctx, cfg.Dialogue.SweepInterval, cfg.Dialogue.ContextExpiry)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
