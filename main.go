package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/listing-pipeline/config"
	"github.com/raine/listing-pipeline/internal/app"
	"github.com/raine/listing-pipeline/internal/bot"
	"github.com/raine/listing-pipeline/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const logFileName = "listing-pipeline.log"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	config.LoadEnvFile()

	if missing := config.CheckRequired("BOT_TOKEN"); len(missing) > 0 {
		if config.IsInteractiveTerminal() {
			if !config.RunSetupWizard(true) {
				config.WaitOnWindows()
				os.Exit(1)
			}
		} else {
			config.FatalWithWait("missing required config: %s", strings.Join(missing, ", "))
		}
	}

	// Under systemd journald collects stderr and the working directory may be
	// read-only.
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			config.FatalWithWait("failed to open log file: %v", err)
		}
		defer logFile.Close()

		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
		fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
		log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))

		log.Info().Str("logFile", logFileName).Msg("logging to file")
	}

	cfg, err := config.Load()
	if err != nil {
		config.FatalWithWait("invalid config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.TraceStdout {
		shutdownTracing, err := observability.InitTracing(os.Stderr)
		if err != nil {
			config.FatalWithWait("failed to initialize tracing: %v", err)
		}
		defer shutdownTracing(context.Background())
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		config.FatalWithWait("%v", err)
	}
	defer a.Close()

	tg, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		config.FatalWithWait("failed to initialize telegram bot: %v", err)
	}
	tg.Debug = false
	log.Info().Str("username", tg.Self.UserName).Msg("authorized on account")

	bot.RegisterCommands(tg)

	b := bot.NewBot(tg, a.Orchestrator, bot.Options{
		Photo:      a.PhotoOptions(),
		CanPublish: a.Publisher.Configured(),
	})

	g, ctx := errgroup.WithContext(ctx)
	a.RunBackground(ctx, g)
	g.Go(func() error {
		return runBot(ctx, tg, b)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

func runBot(ctx context.Context, tg *tgbotapi.BotAPI, b *bot.Bot) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := tg.GetUpdatesChan(updateConfig)

	var wg sync.WaitGroup
	defer b.Shutdown()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping bot update loop")
			tg.StopReceivingUpdates()
			log.Info().Msg("waiting for active handlers to finish")
			wg.Wait()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				log.Warn().Msg("updates channel closed")
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				b.HandleUpdate(ctx, u)
			}(update)
		}
	}
}
