package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/quiz-assist/internal/chat"
	"github.com/suPer8Hu/quiz-assist/internal/config"
	"github.com/suPer8Hu/quiz-assist/internal/db"
	"github.com/suPer8Hu/quiz-assist/internal/email"
	"github.com/suPer8Hu/quiz-assist/internal/logger"
	"github.com/suPer8Hu/quiz-assist/internal/notify"
	"github.com/suPer8Hu/quiz-assist/internal/store/rabbitmq"
)

const (
	sweepEvery = time.Minute
	staleAfter = 15 * time.Minute // longer than the largest retry delay
	sweepBatch = 100
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	if cfg.RabbitURL == "" {
		logger.Logger.Fatal("RABBIT_URL is required for the worker")
	}

	gdb := db.Connect(cfg.DBDSN)
	repo := chat.NewRepo(gdb)

	smtpCfg := email.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}
	if !smtpCfg.Enabled() {
		logger.Logger.Warn("SMTP is not configured, notifications will be marked failed")
	}
	deliverer := notify.NewDeliverer(repo, notify.SMTPSender(smtpCfg), cfg.NotifyEmail, cfg.SiteURL, cfg.NotifyMaxAttempts)

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		logger.Logger.WithError(err).Fatal("rabbit publisher")
	}
	defer pub.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Logger.WithError(err).Fatal("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Logger.WithError(err).Fatal("rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		logger.Logger.WithError(err).Fatal("queue declare")
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Logger.WithError(err).Fatal("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Logger.WithError(err).Fatal("consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{"queue": cfg.RabbitQueue, "concurrency": concurrency}).Info("worker started")

	go sweepStale(ctx, repo, pub)

	// worker pool
	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				handleDelivery(ctx, workerID, deliverer, pub, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Logger.Error("delivery channel closed")
				close(deliveries)
				wg.Wait()
				os.Exit(1)
			}
			deliveries <- d
		}
	}
}

func handleDelivery(ctx context.Context, workerID int, deliverer *notify.Deliverer, pub *rabbitmq.Publisher, d amqp.Delivery) {
	log := logger.WithField("worker", workerID)

	id, err := rabbitmq.DecodeNotification(d.Body)
	if err != nil {
		log.WithError(err).Warn("bad message")
		_ = d.Nack(false, false)
		return
	}
	log = log.WithField("notification_id", id)

	start := time.Now()
	res, err := deliverer.Deliver(ctx, id)
	cost := time.Since(start)

	switch res.Outcome {
	case notify.Retry:
		delay := notify.RetryDelay(res.Attempts)
		if perr := pub.PublishRetry(ctx, id, delay); perr != nil {
			// the row is queued again; the stale sweep republishes it
			log.WithError(perr).Warn("publish retry failed")
		}
		log.WithError(err).WithFields(logrus.Fields{"delay": delay, "cost": cost}).Info("notification scheduled for retry")
		_ = d.Ack(false)
	case notify.Failed:
		_ = d.Nack(false, false)
	default:
		if err := d.Ack(false); err != nil {
			log.WithError(err).Warn("ack failed")
		}
	}

	if cost > 2*time.Second {
		log.WithFields(logrus.Fields{"outcome": res.Outcome.String(), "cost": cost}).Warn("slow notification")
	}
}

// sweepStale republishes rows whose original publish never reached the broker.
func sweepStale(ctx context.Context, repo *chat.Repo, pub *rabbitmq.Publisher) {
	t := time.NewTicker(sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		cutoff := time.Now().Add(-staleAfter)
		if released, err := repo.ReleaseStuckSending(ctx, cutoff); err != nil {
			logger.Logger.WithError(err).Warn("release stuck notifications")
		} else if released > 0 {
			logger.WithField("count", released).Warn("released notifications stuck in sending")
		}

		rows, err := repo.ListStaleQueued(ctx, cutoff, sweepBatch)
		if err != nil {
			logger.Logger.WithError(err).Warn("stale notification sweep")
			continue
		}
		for _, n := range rows {
			if err := pub.PublishNotification(ctx, n.ID); err != nil {
				logger.WithField("notification_id", n.ID).WithError(err).Warn("republish failed")
				break
			}
		}
		if len(rows) > 0 {
			logger.WithField("count", len(rows)).Info("republished stale notifications")
		}
	}
}
