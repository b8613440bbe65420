package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paykiosk.org/internal/app"
	"paykiosk.org/internal/config"
	"paykiosk.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	envFile := flag.String("env", ".env", "optional env file")
	usage := flag.Bool("help-env", false, "describe environment variables and exit")
	flag.Parse()
	if *usage {
		fmt.Println(config.Usage())
		return
	}
	if err := run(*envFile); err != nil {
		obs.Logger().Error("kioskd stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(envFile string) error {
	log := obs.Logger()
	// Инициализация observability (регистрация метрик, build info)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.New(startCtx, cfg)
	if err == nil {
		err = a.Bootstrap(startCtx)
	}
	cancel()
	if err != nil {
		if a != nil {
			_ = a.Close()
		}
		return err
	}
	defer a.Close()

	handler, err := a.Handler(version)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout.Duration(),
		ReadHeaderTimeout: 5 * time.Second,
		// Zero keeps SSE streams open.
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration(),
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("kioskd listening", slog.String("addr", srv.Addr), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.ShutdownTimeout())
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("stopped")
	return nil
}
