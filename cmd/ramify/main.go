package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/ramify/internal/api"
	"github.com/nidhogg/ramify/internal/assistant"
	"github.com/nidhogg/ramify/internal/command"
	"github.com/nidhogg/ramify/internal/completion"
	"github.com/nidhogg/ramify/internal/config"
	"github.com/nidhogg/ramify/internal/events"
	"github.com/nidhogg/ramify/internal/gateway"
	"github.com/nidhogg/ramify/internal/prompt"
	"github.com/nidhogg/ramify/internal/provider"
	msgrouter "github.com/nidhogg/ramify/internal/router"
	"github.com/nidhogg/ramify/internal/session"
	pgstore "github.com/nidhogg/ramify/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// identities are the chat display names of each persona.
var identities = map[string]gateway.Identity{
	prompt.PersonaRamification: {Name: "Ramification Calculator", Emoji: ":crystal_ball:"},
	prompt.PersonaTaskManager:  {Name: "Task Manager", Emoji: ":memo:"},
	prompt.PersonaMedication:   {Name: "Medication Companion", Emoji: ":pill:"},
}

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/ramify.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("Starting ramify...", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Providers
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
			Timeout: cfg.Completion.Timeout(),
		}
		switch pc.Type {
		case "gemini":
			if pc.APIKey == "" {
				logger.Warn("gemini provider has no API key; set GEMINI_API_KEY", zap.String("id", pc.ID))
			}
			router.Register(provider.NewGeminiProvider(provCfg, logger))
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		}
	}
	for persona, id := range cfg.Completion.Bindings {
		router.Bind(persona, id)
	}
	for persona, ids := range cfg.Completion.Fallbacks {
		router.SetFallbacks(persona, ids)
	}

	// Session state, optionally backed by PostgreSQL
	store := session.NewStore(cfg.Session.MaxHistory, logger)
	var pg *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running in memory", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pg = ps
			store.SetPersister(pg)
			if rErr := store.Restore(ctx); rErr != nil {
				logger.Warn("restore session state failed", zap.Error(rErr))
			}
		}
	}
	if len(cfg.Session.Schedule) > 0 && scheduleEmpty(store.Schedule()) {
		if sErr := store.SetSchedule(ctx, cfg.Session.Schedule); sErr != nil {
			logger.Fatal("invalid configured schedule", zap.Error(sErr))
		}
		logger.Info("Seeded medication schedule from config")
	}

	// Assistant
	prompts := prompt.NewAssembler(cfg.Personas.Instructions)
	prompts.SetMedicationTemplate(cfg.Personas.MedicationTemplate)
	gen := completion.Generation{
		Temperature:      cfg.Completion.Temperature,
		TopP:             cfg.Completion.TopP,
		TopK:             cfg.Completion.TopK,
		MaxOutputTokens:  cfg.Completion.MaxOutputTokens,
		ResponseMIMEType: cfg.Completion.ResponseMIMEType,
	}
	svc := assistant.NewService(store, prompts,
		completion.NewRouterGateway(router, cfg.Completion.Timeout(), logger), logger)
	for _, persona := range []string{prompt.PersonaRamification, prompt.PersonaTaskManager, prompt.PersonaMedication} {
		svc.SetPersona(persona, assistant.PersonaConfig{
			Model:      cfg.Completion.Models[persona],
			Generation: gen,
		})
	}

	// Exchange stream
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(ctx, cfg.Database.Redis.URL, cfg.Database.Redis.Stream, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, exchanges will not be published", zap.Error(busErr))
		} else {
			bus = b
			svc.SetPublisher(bus)
		}
	}

	// Chat platforms. The handler is set before adapters register.
	gw := gateway.NewGateway(logger)
	commands := command.NewRegistry()
	command.RegisterBuiltins(commands, svc, gw, nil)
	msgRouter := msgrouter.New(svc, gw, commands, cfg.Completion.Timeout(), logger)
	gw.SetHandler(msgRouter.Handle)

	restAdapter := gateway.NewRESTAdapter(cfg.Completion.Timeout()+5*time.Second, logger)
	gw.Register(restAdapter)

	if cfg.Gateway.Slack.Enabled {
		slackAdapter := gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger)
		for persona, id := range identities {
			slackAdapter.SetIdentity(persona, id)
		}
		gw.Register(slackAdapter)
	}
	if cfg.Gateway.Discord.Enabled {
		discordAdapter := gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger)
		for persona, id := range identities {
			discordAdapter.SetIdentity(persona, id)
		}
		gw.Register(discordAdapter)
	}

	broadcaster := gateway.NewBroadcaster(gw, logger)
	if cfg.Gateway.BroadcastReminder {
		svc.SetNotifier(broadcaster)
	}
	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	handler := api.NewHandler(svc, router, gw, restAdapter, broadcaster, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ramify listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down ramify...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	gw.Close()
	if bus != nil {
		bus.Close()
	}
	if pg != nil {
		pg.Close()
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" || level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func scheduleEmpty(s session.Schedule) bool {
	for _, meds := range s {
		if len(meds) > 0 {
			return false
		}
	}
	return true
}
