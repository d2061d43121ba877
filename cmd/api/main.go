package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webchat/backend/internal/assistant"
	"webchat/backend/internal/config"
	"webchat/backend/internal/db"
	"webchat/backend/internal/enrich"
	"webchat/backend/internal/httpapi"
	"webchat/backend/internal/llm"
	"webchat/backend/internal/logger"
	"webchat/backend/internal/metrics"
	"webchat/backend/internal/netcheck"
	"webchat/backend/internal/search"
	"webchat/backend/internal/session"
	"webchat/backend/internal/settings"
	"webchat/backend/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	appLog := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat, cfg.Environment))
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg)
	if err != nil {
		appLog.LogError(ctx, "open db", err)
		os.Exit(1)
	}
	defer database.Close()

	base := settings.FromConfig(cfg)
	var settingsProvider settings.Provider = base
	if cfg.SettingsFile != "" {
		settingsProvider = settings.NewFile(cfg.SettingsFile, settings.Settings(base))
	}

	outbound := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	enricher := enrich.New(enrich.Config{PageTimeout: cfg.PageFetchTimeout}, nil, appLog, m)
	provider := search.NewProvider(search.Config{
		Strategies: search.DefaultStrategies(search.Endpoints{
			HTML:          cfg.SearchHTMLURL,
			Mirror:        cfg.SearchMirrorURL,
			Lite:          cfg.SearchLiteURL,
			InstantAnswer: cfg.SearchInstantURL,
			NewsRSS:       cfg.SearchNewsRSSURL,
		}),
		AttemptTimeout: cfg.SearchAttemptTimeout,
		EnrichMaxChars: cfg.EnrichMaxChars,
	}, outbound, enricher, appLog, m)
	searcher := search.Throttle(provider, cfg.SearchMinInterval)

	probe := netcheck.NewProbe(netcheck.HTTPCheck(outbound, cfg.ProbeURL, cfg.ProbeTimeout), cfg.ProbeTTL, nil, appLog)

	// Generation streams are bounded by their own contexts, not a client timeout.
	backendHTTP := &http.Client{}
	svc, err := assistant.NewService(assistant.Config{
		DirectiveCap:       cfg.DirectiveRetryCap,
		GenerationTimeout:  cfg.GenerationTimeout,
		SideCallTimeout:    cfg.SideCallTimeout,
		ResearchIterations: cfg.DeepResearchIterations,
		ResearchTimeout:    time.Duration(cfg.DeepResearchTimeoutSeconds) * time.Second,
	}, assistant.Deps{
		Store:    session.NewSQLStore(database),
		Settings: settingsProvider,
		Searcher: searcher,
		Online:   probe,
		Backend: func(s settings.Settings) assistant.Backend {
			return llm.NewClient(llm.Config{BaseURL: s.BackendURL, APIStyle: s.APIStyle, APIKey: cfg.BackendAPIKey}, backendHTTP)
		},
		Registry: stream.NewRegistry(),
		Log:      appLog,
		Metrics:  m,
	})
	if err != nil {
		appLog.LogError(ctx, "build assistant", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           httpapi.NewRouter(cfg, svc, m, appLog),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		appLog.Info("api listening", "addr", cfg.ListenAddress(), "backend", cfg.BackendBaseURL, "api_style", cfg.BackendAPIStyle)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.LogError(context.Background(), "listen", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.LogError(shutdownCtx, "shutdown", err)
	}
}
