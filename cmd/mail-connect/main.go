package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/mail-connect/internal/config"
	"github.com/alexjbarnes/mail-connect/internal/connect"
	"github.com/alexjbarnes/mail-connect/internal/logging"
	"github.com/alexjbarnes/mail-connect/internal/models"
	"github.com/alexjbarnes/mail-connect/internal/provider"
	"github.com/alexjbarnes/mail-connect/internal/secrets"
	"github.com/alexjbarnes/mail-connect/internal/server"
	"github.com/alexjbarnes/mail-connect/internal/state"
)

var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	// Handle gen-client subcommand before anything else.
	if len(os.Args) > 1 && os.Args[1] == "gen-client" {
		genClient()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// genClient prints a fresh client id/secret pair and the env
// fragment that registers it. The secret is shown here once; only
// its digest ever reaches the store.
func genClient() {
	clientID := secrets.Generate(secrets.DefaultLength)
	secret := secrets.Generate(secrets.DefaultLength)

	fmt.Printf("client_id:     %s\n", clientID)
	fmt.Printf("client_secret: %s\n", secret)
	fmt.Printf("\nAdd to CONNECT_CLIENTS:\n\n\t%s:%s\n", clientID, secret)
}

// seedClients reconciles the store against the configured client
// list: configured clients are registered (secrets hashed on the way
// in, existing clients keep their internal ids so outstanding grants
// and tokens survive a restart), and clients no longer configured are
// removed along with their grants and tokens.
func seedClients(store *state.Store, creds []config.ClientCredential) error {
	publicIDs := make([]string, 0, len(creds))

	for _, cred := range creds {
		err := store.UpsertClient(models.Client{
			ID:         uuid.NewString(),
			PublicID:   cred.ClientID,
			SecretHash: secrets.Hash(cred.Secret),
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("seeding client %s: %w", cred.ClientID, err)
		}

		publicIDs = append(publicIDs, cred.ClientID)
	}

	if err := store.PruneClients(publicIDs); err != nil {
		return fmt.Errorf("pruning stale clients: %w", err)
	}

	return nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	store, err := state.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	creds, err := cfg.ParseClients()
	if err != nil {
		return err
	}

	if err := seedClients(store, creds); err != nil {
		return err
	}

	backends := provider.NewRegistry()
	backends.Register("outlook", provider.NewOutlook(provider.OutlookConfig{
		ClientID:     cfg.OutlookClientID,
		ClientSecret: cfg.OutlookClientSecret,
	}, nil))
	backends.Register("custom", provider.NewIMAP())

	svc := connect.NewService(store, backends, logger)

	mux := server.NewMux(server.MuxConfig{
		Service: svc,
		Store:   store,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("starting server",
		slog.String("version", Version),
		slog.String("listen", cfg.ListenAddr),
		slog.String("db", cfg.DBPath),
		slog.Int("clients", len(creds)),
	)

	return g.Wait()
}
