package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fuelbot/internal/config"
	"fuelbot/internal/server"
	"fuelbot/src"
	"fuelbot/src/analytics"
	"fuelbot/src/bot"
	"fuelbot/src/command"
	"fuelbot/src/llm"
	"fuelbot/src/logger"
	"fuelbot/src/model"
	"fuelbot/src/nlp"
	"fuelbot/src/pricing"
	"fuelbot/src/resilience"
	"fuelbot/src/session"
	"fuelbot/src/storage"
	"fuelbot/src/telegram"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	// .env is optional; the environment wins when both are set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := src.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.InitLogger(cfg.LogConfig); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error().Err(err).Msg("fuelbot stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("fuelbot stopped")
}

func openStore(ctx context.Context, cfg model.RedisConfig) (storage.Store, error) {
	if cfg.Memory {
		logger.Warn().Msg("using in-memory store, state is not shared between instances")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewRedisStore(ctx, cfg.URL)
}

func run(ctx context.Context, cfg *src.Config) error {
	kv, err := openStore(ctx, cfg.RedisConfig)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer kv.Close()

	repo, err := pricing.Open(ctx, cfg.DatabaseConfig)
	if err != nil {
		return fmt.Errorf("failed to open pricing database: %w", err)
	}
	defer repo.Close()

	lexicon, err := config.BuildLexicon(cfg.NLPConfig.LexiconPath)
	if err != nil {
		return fmt.Errorf("failed to load lexicon: %w", err)
	}
	ai, err := llm.NewClient(ctx, cfg.LLMConfig)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	// ====================== Resilience ======================
	breakers := resilience.NewBreakers(ctx, cfg.BreakerConfig, kv, []string{
		resilience.BreakerExternalAI,
		resilience.BreakerDatabase,
		resilience.BreakerTelegram,
	})
	timeouts := resilience.NewTimeoutManager(cfg.TimeoutConfig)
	admission := resilience.NewConcurrencyManager(kv, cfg.ConcurrencyConfig)
	degradation := resilience.NewDegradationManager(kv, repo, breakers, cfg.DegradationConfig)

	aiGuard := resilience.NewGuard(breakers.Get(resilience.BreakerExternalAI), timeouts, resilience.ClassExternalAI)
	dbGuard := resilience.NewGuard(breakers.Get(resilience.BreakerDatabase), timeouts, resilience.ClassPriceQuery)
	tgGuard := resilience.NewGuard(breakers.Get(resilience.BreakerTelegram), timeouts, resilience.ClassWebhook)

	// ====================== Bot ======================
	processor := nlp.NewProcessor(cfg.NLPConfig,
		nlp.WithLexicon(lexicon),
		nlp.WithCompleter(ai, aiGuard),
		nlp.WithFeatureGate(degradation),
	)
	recorder := analytics.NewRecorder(kv,
		analytics.WithFeatureGate(degradation),
		analytics.WithTimeouts(timeouts),
	)
	tg := telegram.NewClient(cfg.TelegramConfig)

	b := bot.New(bot.Deps{
		Sessions:       session.NewStore(kv, cfg.SessionConfig),
		Registry:       command.NewRegistry(),
		NLP:            processor,
		Prices:         pricing.NewGuarded(repo, dbGuard),
		Messenger:      tg,
		MessengerGuard: tgGuard,
		Admission:      admission,
		Degradation:    degradation,
		Analytics:      recorder,
	}, bot.WithBotName(cfg.TelegramConfig.BotName))

	srvDeps := server.Deps{
		Breakers:    breakers,
		Degradation: degradation,
		Concurrency: admission,
		Timeouts:    timeouts,
	}
	if cfg.TelegramConfig.UseWebhook {
		srvDeps.Handler = b.HandleUpdate
		srvDeps.WebhookSecret = cfg.TelegramConfig.WebhookSecret
	}
	srv := server.New(cfg.HTTPConfig.Addr, srvDeps)

	logger.Info().
		Str("database", cfg.DatabaseConfig.Driver).
		Str("llm_provider", cfg.LLMConfig.Provider).
		Bool("llm_mock", ai.Mock()).
		Bool("webhook", cfg.TelegramConfig.UseWebhook).
		Str("http_addr", cfg.HTTPConfig.Addr).
		Msg("fuelbot starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return degradation.Run(ctx) })
	g.Go(func() error { return admission.Run(ctx, b.ProcessQueued) })
	if !cfg.TelegramConfig.UseWebhook {
		poller := telegram.NewPoller(tg, cfg.TelegramConfig.PollTimeout, b.HandleUpdate)
		g.Go(func() error { return poller.Run(ctx) })
	}
	return g.Wait()
}
