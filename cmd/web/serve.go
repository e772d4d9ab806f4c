package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"thirdcoast.systems/retro/cmd/web/auth"
	"thirdcoast.systems/retro/cmd/web/internal/web"
	"thirdcoast.systems/retro/internal/application"
	"thirdcoast.systems/retro/internal/config"
	"thirdcoast.systems/retro/internal/retro"
)

const shutdownTimeout = 5 * time.Second

func serve(parent context.Context, cfgPath string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting web service", "version", version)

	conf, err := config.LoadConfig(ctx, cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	broker, err := application.OpenBroker(ctx, *conf)
	if err != nil {
		return fmt.Errorf("open hub broker: %w", err)
	}
	if broker != nil {
		defer broker.Close()
	}

	hub := retro.NewHub(retro.Options{
		Broker:           broker,
		Topic:            conf.HubChannel,
		ReconcileTimeout: conf.HubReconcileTimeout,
		MaxSubscribers:   conf.HubMaxSubscribers,
	})
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}
	slog.Info("Hub started", "instance", hub.ID(), "broker", conf.HubBroker, "channel", conf.HubChannel)

	e, err := web.NewWebserver(hub, auth.NewHostCookieManager(conf.SessionSecret), web.Options{
		KeepAlive:        conf.HubKeepaliveInterval,
		DefaultVoteLimit: conf.HubDefaultVoteLimit,
		AllowedOrigins:   conf.WebServerAllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("create webserver: %w", err)
	}

	addr := ":" + strconv.Itoa(conf.WebServerPort)
	// Request contexts end on shutdown so open streams return.
	e.Server.BaseContext = func(net.Listener) context.Context { return ctx }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Web service stopped")
	return nil
}
