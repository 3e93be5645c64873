package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/arung-agamani/denpa-relay/config"
	"github.com/arung-agamani/denpa-relay/internal/api"
	"github.com/arung-agamani/denpa-relay/internal/arbiter"
	"github.com/arung-agamani/denpa-relay/internal/auth"
	"github.com/arung-agamani/denpa-relay/internal/catalog"
	"github.com/arung-agamani/denpa-relay/internal/eventbus"
	"github.com/arung-agamani/denpa-relay/internal/ffmpeg"
	"github.com/arung-agamani/denpa-relay/internal/mixerctl"
	"github.com/arung-agamani/denpa-relay/internal/observer"
	"github.com/arung-agamani/denpa-relay/internal/queue"
	"github.com/arung-agamani/denpa-relay/internal/recording"
	"github.com/arung-agamani/denpa-relay/internal/statestore"
	"github.com/arung-agamani/denpa-relay/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	slog.Info("starting denpa-relay control plane", "port", cfg.Port)

	store, err := statestore.New(cfg.StateStoreURL)
	if err != nil {
		slog.Error("failed to connect to state store", "error", err)
		os.Exit(1)
	}

	catalogStore, err := catalog.Open(cfg.CatalogStoreURL)
	if err != nil {
		slog.Error("failed to open catalog store", "error", err)
		os.Exit(1)
	}
	defer catalogStore.Close()

	issuer := auth.NewIssuer(cfg.JWTSecret)
	resolver := auth.NewResolver(issuer, cfg.AdminAPITokens, cfg.InternalAPIToken)

	userQueueClient := mixerctl.New(cfg.MixerUserQueueAddr)
	fallbackQueueClient := mixerctl.New(cfg.MixerFallbackQueueAddr)
	controlClient := mixerctl.New(cfg.MixerControlAddr)
	defer userQueueClient.Close()
	defer fallbackQueueClient.Close()
	defer controlClient.Close()

	userQueueSocket := mixerctl.NewQueueSocket(userQueueClient)
	fallbackQueueSocket := mixerctl.NewQueueSocket(fallbackQueueClient)
	controlSocket := mixerctl.NewControlSocket(controlClient)

	downloadDir := cfg.RecordingsDir + "/../downloads"
	uploadDir := cfg.RecordingsDir + "/../uploads"
	adminUploadDir := cfg.RecordingsDir + "/../admin-uploads"

	queueCtrl := queue.New(store, queue.NewHTTPDownloader(downloadDir), userQueueSocket, fallbackQueueSocket, queue.Config{
		UploadDir:       uploadDir,
		MaxFileSize:     cfg.MaxFileSize,
		MaxSongDuration: cfg.MaxSongDuration,
		DupWindow:       cfg.DupWindow,
	})

	bus := eventbus.New(store)

	replicaID := "relay-" + uuid.NewString()[:8]
	arb := arbiter.New(store, bus, issuer, controlSocket, 30*time.Second)
	watchdog := arbiter.NewWatchdog(arb, store, replicaID, cfg.WatchdogInterval)

	obs := observer.New(queueCtrl, arb, bus, store, replicaID, cfg.PollInterval)

	dispatcher := webhook.New(catalogStore, bus, nil)

	encoder := ffmpeg.NewEncoder("128k", "44100", "2")
	recordingWorker := recording.New(bus, catalogStore, encoder, recording.Config{
		CaptureAddr:   cfg.MixerCaptureAddr,
		WorkDir:       cfg.RecordingsDir + "/tmp",
		RecordingsDir: cfg.RecordingsDir,
	})
	recordingWorker.ReapOrphans()

	router := api.NewRouter(api.Dependencies{
		Queue:          queueCtrl,
		Arbiter:        arb,
		Catalog:        catalogStore,
		Observer:       obs,
		Webhooks:       dispatcher,
		Resolver:       resolver,
		Issuer:         issuer,
		AdminUploadDir: adminUploadDir,
	})

	httpServer := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   0, // recording downloads and SSE streams have no fixed bound
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		slog.Info("shutdown signal received")
		cancel()
	}()

	go watchdog.Run(ctx)
	go obs.Run(ctx)
	go dispatcher.Run(ctx)
	go recordingWorker.Run(ctx)

	errChan := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		slog.Error("http server error", "error", err)
		os.Exit(1)
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during shutdown", "error", err)
		}
	}

	slog.Info("control plane stopped")
}
