package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/localpepas/orderlink/config"
	"github.com/localpepas/orderlink/internal/auth"
	"github.com/localpepas/orderlink/internal/broker/kafka"
	"github.com/localpepas/orderlink/internal/cache"
	"github.com/localpepas/orderlink/internal/cache/filecache"
	"github.com/localpepas/orderlink/internal/cache/rediscache"
	"github.com/localpepas/orderlink/internal/integrations/backendhttp"
	"github.com/localpepas/orderlink/internal/services/orderstate"
	"github.com/localpepas/orderlink/internal/socket"
	"github.com/localpepas/orderlink/internal/storage/pgevents"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.OrderLink.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	tokenPath := cfg.OrderLink.TokenPath
	if tokenPath == "" {
		tokenPath = "data/accessToken.json"
	}
	wsURL := cfg.Backend.WSURL
	if wsURL == "" {
		wsURL = "ws://localhost:9000/ws/order-tracking"
	}
	topic := cfg.Kafka.OrderEventsTopicName
	if topic == "" {
		topic = "pedido.events"
	}

	retention := time.Duration(cfg.OrderLink.RetentionTTLSeconds) * time.Second
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	sweepInterval := time.Duration(cfg.OrderLink.SweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Minute
	}
	viewTTL := time.Duration(cfg.OrderLink.ViewCacheTTLSeconds) * time.Second

	reconnectBase := time.Duration(cfg.OrderLink.ReconnectBaseSeconds) * time.Second
	if reconnectBase <= 0 {
		reconnectBase = 5 * time.Second
	}
	reconnectCap := time.Duration(cfg.OrderLink.ReconnectCapSeconds) * time.Second
	if reconnectCap <= 0 {
		reconnectCap = 80 * time.Second
	}
	reconnectAttempts := cfg.OrderLink.ReconnectMaxAttempts
	if reconnectAttempts <= 0 {
		reconnectAttempts = 5
	}

	fc, err := filecache.New(tokenPath)
	if err != nil {
		panic(fmt.Sprintf("token storage: %v", err))
	}
	tokens := auth.NewTokenStore(fc)

	var viewCache cache.BytesCache
	if cfg.Redis.Host != "" && viewTTL > 0 {
		viewCache = rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
	}

	store := orderstate.NewStore(retention)
	svc := orderstate.New(store, viewCache, viewTTL)

	var producer *kafka.Producer
	if cfg.OrderLink.KafkaSinkEnabled {
		brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
		producer = kafka.NewProducer(brokers)
		svc.WithRecorder(kafka.NewEventSink(producer, topic))
	}

	var archive *pgevents.Storage
	if cfg.OrderLink.ArchiveSinkEnabled {
		sslMode := cfg.Database.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
		archive, err = pgevents.New(connString)
		if err != nil {
			panic(fmt.Sprintf("event archive: %v", err))
		}
		svc.WithRecorder(archive)
	}

	mgr := socket.New(tokens, wsURL, svc.HandleMessage).
		WithBackoff(reconnectBase, reconnectCap, reconnectAttempts)

	var backend *backendhttp.Client
	if cfg.Backend.BaseURL != "" {
		backend = backendhttp.New(cfg.Backend.BaseURL, tokens).
			WithTimeout(time.Duration(cfg.OrderLink.HTTPTimeoutSeconds) * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go store.RunSweeper(ctx, sweepInterval)

	// Подключаемся сразу, если сессия уже сохранена; иначе ждём reconnect.
	if err := mgr.Connect(ctx); err != nil {
		slog.Warn("initial socket connect failed", "error", err.Error())
	}

	deps := gatewayDeps{
		svc:     svc,
		mgr:     mgr,
		tokens:  tokens,
		backend: backend,
	}
	if archive != nil {
		deps.archive = archive
	}
	err = runGateway(ctx, httpAddr, deps)

	_ = mgr.Close()
	if producer != nil {
		_ = producer.Close()
	}
	if archive != nil {
		archive.Close()
	}
	if err != nil && err != context.Canceled {
		panic(err)
	}
}
