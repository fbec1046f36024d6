package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sotrian/sotrian/backend/internal/config"
	"github.com/sotrian/sotrian/backend/internal/credential"
	"github.com/sotrian/sotrian/backend/internal/handler"
	chatService "github.com/sotrian/sotrian/backend/internal/service/chat"
	"github.com/sotrian/sotrian/backend/internal/service/detection"
	"github.com/sotrian/sotrian/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Pick chat persistence: embedded document store when a path is
	// configured, otherwise in-memory.
	var (
		chats     store.ChatStore
		credStore store.CredentialStore
	)
	if cfg.Store.Path != "" {
		badgerStore, err := store.OpenBadgerStore(cfg.Store.Path)
		if err != nil {
			log.Fatalf("failed to open chat store at %s: %v", cfg.Store.Path, err)
		}
		defer badgerStore.Close()
		chats, credStore = badgerStore, badgerStore
		log.Printf("chat store opened at %s", cfg.Store.Path)
	} else {
		memStore := store.NewMemoryStore()
		chats, credStore = memStore, memStore
		log.Println("STORE_PATH not set, using in-memory chat store")
	}

	chatSvc := chatService.NewService(chats)

	if !cfg.Detector.Enabled() {
		log.Fatal("DETECTOR_BASE_URL is required")
	}
	detector := detection.NewClient(cfg.Detector.BaseURL, cfg.Detector.ConnectTimeout)

	// Per-user credentials first, shared engine key as fallback.
	creds := credential.Chain{
		credential.NewStoreResolver(credStore, nil),
		credential.NewStaticResolver(cfg.Detector.APIKey),
	}

	router := handler.NewRouter(chatSvc, detector, creds, credStore, cfg.Detector.IdleTimeout)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Sotrian backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
