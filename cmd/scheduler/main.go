package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"announce_scheduler/internal/config"
	"announce_scheduler/internal/lock"
	"announce_scheduler/internal/logging"
	"announce_scheduler/internal/playback"
	"announce_scheduler/internal/publisher"
	"announce_scheduler/internal/scheduler"
	"announce_scheduler/internal/service"
	"announce_scheduler/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := logging.New("info", logging.FormatJSON)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return err
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	var locker service.Locker
	if cfg.Redis.Enabled {
		rdb, err := lock.Connect(ctx, lock.Config{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, logger)
		logger.Info("using redis tick lock", "addr", cfg.Redis.Addr)
	}

	var player service.Player
	switch cfg.Scheduler.Playback.Mode {
	case config.PlaybackMQTT:
		mqttPlayer, err := playback.NewMQTTPlayer(playback.MQTTConfig{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			QoS:            *cfg.MQTT.QoS,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}, logger)
		if err != nil {
			return err
		}
		defer mqttPlayer.Close()
		player = mqttPlayer
	default:
		player = playback.NewSimulated(cfg.Scheduler.Playback.SimulatedDuration, logger)
	}

	schedules := postgres.NewScheduleStore(db)
	queue := postgres.NewQueueStore(db)
	history := postgres.NewHistoryStore(db)
	txManager := postgres.NewTransactionManager(db)

	processor := service.NewScheduleProcessor(schedules, queue, txManager, locker, logger, cfg.Scheduler)
	executor := service.NewQueueExecutor(queue, schedules, history, txManager, player, pub, locker, logger, cfg.Scheduler)

	sched := scheduler.NewScheduler(processor, executor, scheduler.Config{
		ProcessSpec: cfg.Scheduler.ProcessSpec,
		ExecuteSpec: cfg.Scheduler.ExecuteSpec,
		Timezone:    cfg.Scheduler.Timezone,
		TickTimeout: cfg.Scheduler.TickTimeout,
	}, logger)

	logger.Info("starting announcement scheduler",
		"playback", cfg.Scheduler.Playback.Mode,
		"batch_size", cfg.Scheduler.BatchSize,
		"dedup_window", cfg.Scheduler.DedupWindow,
	)

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
