package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hotline-platform/internal/pbx"
	"hotline-platform/pkg/logger"
)

func main() {
	configPath := flag.String("config", "/etc/hotline/pbxbridge.yaml", "path to config file")
	flag.Parse()

	cfg, err := pbx.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pub pbx.Publisher = pbx.NoopPublisher{}
	if cfg.MQTT.Broker != "" {
		mq, err := pbx.NewMQTTPublisher(cfg.MQTT)
		if err != nil {
			log.Error("mqtt connect failed", "broker", cfg.MQTT.Broker, "err", err)
			os.Exit(1)
		}
		defer mq.Close()
		pub = mq
		log.Info("lifecycle publisher connected", "broker", cfg.MQTT.Broker)
	}

	ari := pbx.NewARIClient(cfg.ARI, log)
	hotline := pbx.NewHotlineClient(cfg.Hotline, log)
	bridge := pbx.NewBridge(cfg, ari, ari, hotline, pub, log)

	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           pbx.NewServer(cfg.Hotline, bridge, ari, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("command api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("command api failed", "err", err)
			stop()
		}
	}()

	go func() {
		if err := bridge.Run(rootCtx); err != nil {
			log.Error("bridge stopped", "err", err)
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
