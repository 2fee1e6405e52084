package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payment"
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

	pOK := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentCaptured, 1024, log)
	pOK.Start()
	pDL := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentDeclined, 1024, log)
	pDL.Start()

	svc := &payment.Service{
		Gateway:        &payment.StubGateway{ApproveRate: 0.95, Delay: time.Second},
		Idem:           &redisx.IdemStore{RDB: rdb, TTL: redisx.TTLIdemPayment},
		ProducerOK:     pOK,
		ProducerDecl:   pDL,
		UnitPriceCents: cfg.UnitPriceCents,
		ServiceName:    cfg.ServiceName + "-payment",
		Log:            log,
	}

	group := getenv("PAYMENT_GROUP", "payment-svc")
	workers := mustAtoi(os.Getenv("PAYMENT_WORKERS"), 8)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, []string{orders.TopicOrderPlaced}, workers, log)

	go func() {
		log.Info("payment consumer started",
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
	time.Sleep(500 * time.Millisecond)
	pOK.Close()
	pDL.Close()
	pOK.WaitClosed()
	pDL.WaitClosed()
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
