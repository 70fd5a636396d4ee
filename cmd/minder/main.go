package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/basket/minder/internal/channels"
	"github.com/basket/minder/internal/config"
	"github.com/basket/minder/internal/engine"
	"github.com/basket/minder/internal/notify"
	otelPkg "github.com/basket/minder/internal/otel"
	"github.com/basket/minder/internal/persistence"
	"github.com/basket/minder/internal/reminder"
	"github.com/basket/minder/internal/schedule"
	"github.com/basket/minder/internal/telemetry"
	"github.com/basket/minder/internal/tools"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func main() {
	loadDotEnv(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "version", Version, "home", cfg.HomeDir)

	otelProvider, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated", "db", cfg.DBPath)

	provider := engine.NewGenkitProvider(ctx, engine.ProviderConfig{
		Provider:                 cfg.LLM.Provider,
		Model:                    cfg.LLM.Model,
		APIKey:                   cfg.LLM.APIKey,
		OpenAICompatibleProvider: cfg.LLM.OpenAICompatibleProvider,
		OpenAICompatibleBaseURL:  cfg.LLM.OpenAICompatibleBaseURL,
	})

	svc := schedule.NewService(store, logger)

	registry, err := tools.NewRegistry(svc, logger)
	if err != nil {
		fatalStartup(logger, "E_TOOL_REGISTRY_INIT", err)
	}
	if g := provider.Genkit(); g != nil {
		provider.SetTools(registry.RegisterAll(g))
	}

	loop := engine.NewLoop(store, provider, registry, logger, metrics, engine.LoopConfig{
		AgentName:         cfg.Agent.Name,
		Persona:           cfg.Persona,
		MaxToolIterations: cfg.Agent.MaxToolIterations,
		ProviderAttempts:  cfg.Agent.ProviderAttempts,
		HistoryLimit:      cfg.Agent.HistoryLimit,
	})
	logger.Info("startup phase", "phase", "loop_ready",
		"provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	// The telegram channel serves both directions: inbound chat into the loop
	// and outbound reminders via the same bot connection.
	var tg *channels.TelegramChannel
	var notifier notify.Notifier
	if cfg.Channels.Telegram.Enabled {
		tg = channels.NewTelegramChannel(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowedIDs, loop, logger)
		if err := tg.Connect(); err != nil {
			fatalStartup(logger, "E_TELEGRAM_INIT", err)
		}
		notifier = notify.NewTelegram(tg.Bot())
	} else {
		logger.Warn("no chat channel enabled; reminders will only be logged")
		notifier = notify.Func(func(_ context.Context, ownerID, text string) error {
			logger.Info("reminder (no channel)", "owner_id", ownerID, "text", text)
			return nil
		})
	}

	reminders, err := reminder.NewEngine(store, notifier, logger, metrics, reminder.Config{
		DigestCron:    cfg.Reminders.DailyDigestCron,
		SweepInterval: time.Duration(cfg.Reminders.SweepIntervalSeconds) * time.Second,
		DefaultWindow: time.Duration(cfg.Reminders.DefaultWindowMinutes) * time.Minute,
	})
	if err != nil {
		fatalStartup(logger, "E_REMINDER_INIT", err)
	}
	if err := reminders.Start(ctx); err != nil {
		fatalStartup(logger, "E_REMINDER_START", err)
	}
	defer reminders.Stop()
	logger.Info("startup phase", "phase", "reminder_engine_started")

	if tg != nil {
		go func() {
			if err := tg.Start(ctx); err != nil {
				logger.Error("telegram channel failed", "error", err)
				stop()
			}
		}()
	}

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for ev := range confWatcher.Events() {
			switch filepath.Base(ev.Path) {
			case "PERSONA.md":
				data, err := os.ReadFile(ev.Path)
				if err != nil {
					logger.Warn("persona reload failed", "error", err)
					continue
				}
				loop.UpdatePersona(strings.TrimSpace(string(data)))
				logger.Info("PERSONA.md hot-reloaded")
			case "config.yaml":
				logger.Info("config.yaml changed; restart to apply")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	// Deferred order: reminder engine drains, then the store closes.
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"minder","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
