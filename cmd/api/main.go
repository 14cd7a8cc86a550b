package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hotline-platform/internal/auth"
	"hotline-platform/internal/callflow"
	"hotline-platform/internal/config"
	"hotline-platform/internal/console"
	"hotline-platform/internal/history"
	"hotline-platform/internal/policy"
	"hotline-platform/internal/prompts"
	"hotline-platform/internal/registry"
	"hotline-platform/internal/ringing"
	"hotline-platform/internal/roster"
	"hotline-platform/internal/telephony"
	"hotline-platform/internal/transcribe"
	"hotline-platform/pkg/logger"
	"hotline-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	app, err := buildApp(cfg, log, db, rdb, tokens)
	if err != nil {
		log.Error("wiring failed", "err", err)
		os.Exit(1)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	app.registerRoutes(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("hotline api listening", "addr", srv.Addr, "env", cfg.App.Env, "provider", app.adapter.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// app holds the wired collaborators routes.go hangs handlers off of.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	db      *sql.DB
	rdb     *redis.Client
	tokens  *auth.Manager
	adapter telephony.CallControl
	reg     *registry.Registry
	orch    *callflow.Orchestrator
	console *console.Handler
	store   *history.Store
}

func buildApp(cfg config.Config, log *slog.Logger, db *sql.DB, rdb *redis.Client, tokens *auth.Manager) (*app, error) {
	res := defaultPrompts(cfg.Hotline.Languages)

	adapter, err := newAdapter(cfg, res, log)
	if err != nil {
		return nil, err
	}

	store := history.NewStore(db)
	reg := registry.New(log, registry.WithArchiver(store))

	shift, err := roster.ParseEntries(cfg.Hotline.Roster)
	if err != nil {
		return nil, err
	}
	fallback, err := roster.ParseEntries(cfg.Hotline.FallbackRoster)
	if err != nil {
		return nil, err
	}

	pol := &policy.FailOpen{
		Bans:     policy.NewRedisBanChecker(rdb),
		Limits:   policy.NewRedisRateLimiter(rdb, cfg.Hotline.RateLimitCalls),
		Settings: policy.NewPGSettingsStore(db),
		Defaults: policy.Settings{
			CaptchaEnabled: cfg.Hotline.CaptchaEnabled,
			CaptchaDigits:  cfg.Hotline.CaptchaDigits,
			RateLimitCalls: cfg.Hotline.RateLimitCalls,
			QueueTimeout:   cfg.Hotline.QueueTimeout,
			GatherTimeout:  cfg.Hotline.GatherTimeout,
			Languages:      cfg.Hotline.Languages,
		},
		Log: log,
	}

	var tr transcribe.Transcriber
	if cfg.Transcribe.URL != "" {
		tr = transcribe.NewHTTP(cfg.Transcribe.URL, cfg.Transcribe.APIKey, cfg.Transcribe.Model)
	}

	ring := ringing.NewCoordinator(adapter, reg, log)
	orch := callflow.New(callflow.Deps{
		Adapter:       adapter,
		Registry:      reg,
		Ringing:       ring,
		Policy:        pol,
		Roster:        &roster.Static{Shift: shift, FallbackList: fallback},
		Spam:          policy.NewPGSpamReporter(db),
		Transcribe:    tr,
		Log:           log,
		HotlineNumber: cfg.Hotline.Number,
		HashSalt:      cfg.Hotline.HashSalt,
	})

	return &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		rdb:     rdb,
		tokens:  tokens,
		adapter: adapter,
		reg:     reg,
		orch:    orch,
		console: console.NewHandler(reg, orch, tokens, log),
		store:   store,
	}, nil
}

func newAdapter(cfg config.Config, res prompts.Resolver, log *slog.Logger) (telephony.CallControl, error) {
	p := cfg.Provider
	base := cfg.App.PublicBaseURL
	number := cfg.Hotline.Number

	switch p.Name {
	case "twilio":
		return telephony.NewTwilioAdapter(telephony.TwilioConfig{
			AccountSID:    p.Twilio.AccountSID,
			AuthToken:     p.Twilio.AuthToken,
			PublicBaseURL: base,
			HotlineNumber: number,
		}, res, log, nil), nil
	case "signalwire":
		return telephony.NewSignalWireAdapter(telephony.SignalWireConfig{
			Space:         p.SignalWire.Space,
			ProjectID:     p.SignalWire.ProjectID,
			APIToken:      p.SignalWire.APIToken,
			SigningKey:    p.SignalWire.SigningKey,
			PublicBaseURL: base,
			HotlineNumber: number,
		}, res, log, nil), nil
	case "vonage":
		return telephony.NewVonageAdapter(telephony.VonageConfig{
			APIKey:          p.Vonage.APIKey,
			APISecret:       p.Vonage.APISecret,
			SignatureSecret: p.Vonage.SignatureSecret,
			PublicBaseURL:   base,
			HotlineNumber:   number,
		}, res, log, nil), nil
	case "plivo":
		return telephony.NewPlivoAdapter(telephony.PlivoConfig{
			AuthID:        p.Plivo.AuthID,
			AuthToken:     p.Plivo.AuthToken,
			PublicBaseURL: base,
			HotlineNumber: number,
		}, res, log, nil), nil
	case "bridge":
		return telephony.NewBridgeAdapter(telephony.BridgeConfig{
			BaseURL:       p.Bridge.URL,
			SharedSecret:  p.Bridge.SharedSecret,
			HotlineNumber: number,
		}, log, nil), nil
	}
	return nil, fmt.Errorf("unknown telephony provider %q", p.Name)
}

// defaultPrompts seeds the built-in English prompt texts. Deployments layer
// recorded audio or translations on top via the prompt table; anything not
// overridden falls back to these.
func defaultPrompts(languages []string) *prompts.Table {
	def := "en"
	if len(languages) > 0 {
		def = languages[0]
	}
	t := prompts.NewTable(def)

	for key, text := range map[string]string{
		"welcome":           "You have reached the helpline. You are not alone.",
		"captcha_intro":     "To connect you with a listener, please enter the digits you hear.",
		"captcha_failed":    "That did not match. Please call again.",
		"rate_limited":      "You have reached us several times recently. Please try again later.",
		"queue_welcome":     "Please hold. We are finding someone for you to talk to.",
		"voicemail_intro":   "All of our listeners are busy right now. Please leave a message after the tone and we will call you back.",
		"volunteer_connect": "Connecting you with a caller now.",
	} {
		t.SetText(key, "en", text)
	}

	t.SetText("language_menu", "en", languageMenuText(languages))
	return t
}

func languageMenuText(languages []string) string {
	if len(languages) < 2 {
		return "Please hold."
	}
	names := map[string]string{
		"en": "English", "de": "Deutsch", "fr": "Français", "es": "Español",
		"it": "Italiano", "nl": "Nederlands", "el": "Ελληνικά", "pl": "Polski",
		"ru": "Русский", "tr": "Türkçe", "uk": "Українська",
	}
	out := ""
	for i, lang := range languages {
		name := names[lang]
		if name == "" {
			name = lang
		}
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s: %d.", name, i+1)
	}
	return out
}
