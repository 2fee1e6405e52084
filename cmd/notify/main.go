package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log, _ := zap.NewProduction()
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	var channel notify.Channel = &notify.LogChannel{Log: log}
	if cfg.NotifyWebhook != "" {
		channel = &notify.WebhookChannel{URL: cfg.NotifyWebhook}
	}

	svc := &notify.Service{
		Channel:     channel,
		Idem:        &redisx.IdemStore{RDB: rdb, TTL: redisx.TTLIdemNotify},
		ServiceName: cfg.ServiceName + "-notify",
		Log:         log,
	}

	group := getenv("NOTIFY_GROUP", "notify-svc")
	workers := mustAtoi(os.Getenv("NOTIFY_WORKERS"), 4)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, []string{orders.TopicOrderPlaced}, workers, log)

	go func() {
		log.Info("notify consumer started",
			zap.String("group", group),
			zap.String("topic", orders.TopicOrderPlaced),
			zap.Int("workers", workers))
		if err := cons.Start(ctx, svc.HandleOrderPlaced); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down consumer...")
	cancel()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
