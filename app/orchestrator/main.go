package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/yoockh/meetscribe/config"
	"github.com/yoockh/meetscribe/internal/api/handlers"
	"github.com/yoockh/meetscribe/internal/api/middleware"
	"github.com/yoockh/meetscribe/internal/api/routes"
	"github.com/yoockh/meetscribe/internal/events"
	"github.com/yoockh/meetscribe/internal/gateway"
	"github.com/yoockh/meetscribe/internal/logger"
	"github.com/yoockh/meetscribe/internal/monitor"
	"github.com/yoockh/meetscribe/internal/notify"
	"github.com/yoockh/meetscribe/internal/pipeline"
	"github.com/yoockh/meetscribe/internal/platform"
	"github.com/yoockh/meetscribe/internal/providers/llm"
	"github.com/yoockh/meetscribe/internal/providers/stt"
	"github.com/yoockh/meetscribe/internal/recorder"
	mongorepo "github.com/yoockh/meetscribe/internal/repositories/mongo"
	pgrepo "github.com/yoockh/meetscribe/internal/repositories/postgres"
	"github.com/yoockh/meetscribe/internal/session"
	"github.com/yoockh/meetscribe/internal/storage"
	"github.com/yoockh/meetscribe/internal/summary"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	l := logger.New()

	// Init MongoDB
	if err := config.InitMongo(); err != nil {
		log.Fatalf("MongoDB init error: %v", err)
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.Fatalf("MongoDB index error: %v", err)
	}
	l.Info("MongoDB connected")

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	l.Info("PostgreSQL connected")

	// Init Redis
	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	l.Info("Redis connected")

	ctx := context.Background()

	sttProvider, err := stt.NewGoogleSpeech(ctx)
	if err != nil {
		log.Fatalf("speech client init error: %v", err)
	}
	defer sttProvider.Close()

	llmProvider, err := llm.NewVertexGemini(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.GeminiModel)
	if err != nil {
		log.Fatalf("vertex client init error: %v", err)
	}
	defer llmProvider.Close()

	templates, err := notify.Load()
	if err != nil {
		log.Fatalf("notification template error: %v", err)
	}

	gw := gateway.New(
		func(ctx context.Context) (storage.Uploader, error) {
			return storage.NewGCSUploader(ctx, cfg.GCSBucket)
		},
		gateway.Options{
			Cooldown:    cfg.QuotaCooldown,
			MaxAttempts: cfg.MaxUploadAttempts,
			BatchSize:   cfg.UploadBatchSize,
			BatchPause:  cfg.BatchPause,
			BackupDir:   cfg.BackupDir,
		},
		logger.Component(l, "gateway"),
	)

	rec := recorder.New(cfg.RecordingsDir, logger.Component(l, "recorder"))
	publisher := events.NewRedisPublisher(config.RedisClient, logger.Component(l, "events"))
	sessionRepo := mongorepo.NewSessionRepo(config.MongoDatabase())
	deliveryRepo, err := pgrepo.NewDeliveryRepo(config.PostgresDB)
	if err != nil {
		log.Fatalf("delivery ledger init error: %v", err)
	}

	pipe := pipeline.New(
		sttProvider,
		summary.NewService(llmProvider, cfg.OutputLanguage),
		gw,
		deliveryRepo,
		publisher,
		templates,
		cfg.SpeechLanguage,
		cfg.UploadConcurrency,
		logger.Component(l, "pipeline"),
	)

	machine := session.NewMachine(
		session.Options{
			TriggerChannel:     cfg.TriggerChannel,
			CloseDelay:         cfg.CloseDelay,
			MaxSessionDuration: cfg.MaxSessionDuration,
			RemoveChannelDelay: 30 * time.Second,
			SpeechLanguage:     cfg.SpeechLanguage,
		},
		nil, // platform wired below, after the websocket client exists
		rec,
		pipe,
		templates,
		publisher,
		sessionRepo,
		logger.Component(l, "session"),
	)

	voice := platform.NewWSVoice(cfg.VoiceGatewayURL, machine, logger.Component(l, "platform"))
	machine.BindPlatform(voice)
	if err := voice.Connect(ctx); err != nil {
		log.Fatalf("voice gateway connect error: %v", err)
	}
	defer voice.Close()

	mon := monitor.New(cfg.MemoryCheckInterval, cfg.ResetInterval, gw, logger.Component(l, "monitor"))
	monCtx, stopMon := context.WithCancel(ctx)
	go mon.Run(monCtx)

	// Ops HTTP surface
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(l))
	routes.RegisterRoutes(r, routes.Deps{
		Ops:       handlers.NewOpsHandler(machine, mon, gw, sessionRepo),
		JWTSecret: cfg.JWTSecret,
	})

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()
	l.WithField("port", cfg.HTTPPort).Info("ops server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info("shutting down")

	stopMon()
	machine.EndAll("shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.WithError(err).Warn("http shutdown error")
	}
}
