package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/opinionwatch/opinionwatch/internal/config"
	"github.com/opinionwatch/opinionwatch/internal/dispatch"
	"github.com/opinionwatch/opinionwatch/internal/logger"
	"github.com/opinionwatch/opinionwatch/internal/scheduler"
	"github.com/opinionwatch/opinionwatch/internal/source"
	"github.com/opinionwatch/opinionwatch/internal/storage"
	"github.com/opinionwatch/opinionwatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	sourceClient := source.NewClient(
		cfg.Source.APIURL,
		cfg.Source.Timeout,
		cfg.Source.Limit,
		source.ClientConfig{
			MaxRetries:     cfg.Source.MaxRetries,
			RetryDelayBase: cfg.Source.RetryDelayBase,
			RetryDelayMax:  cfg.Source.RetryDelayMax,
		},
	)

	var telegramClient *telegram.Client
	var channel dispatch.Channel
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(
			cfg.Telegram.BotToken, store, cfg.Source.PollInterval,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		channel = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	dispatcher := dispatch.New(channel, dispatch.Config{
		Cooldown: cfg.Dispatch.Cooldown,
		MaxTags:  cfg.Dispatch.MaxTags,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, letting current cycle finish...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.AttachDispatcher(dispatcher)
		telegramClient.ListenForCommands(ctx)
	}

	logger.Info("Starting market monitor (interval: %v, initial delay: %v, cooldown: %v)",
		cfg.Source.PollInterval,
		cfg.Source.InitialDelay,
		cfg.Dispatch.Cooldown,
	)

	sched := scheduler.New(sourceClient, store, dispatcher, scheduler.Config{
		PollInterval: cfg.Source.PollInterval,
		InitialDelay: cfg.Source.InitialDelay,
		FetchTimeout: cfg.Source.Timeout,
	})
	sched.Run(ctx)

	logger.Info("Service stopped")
}
