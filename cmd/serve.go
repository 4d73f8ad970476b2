package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nogataka/cc-discussion/internal/config"
	"github.com/nogataka/cc-discussion/internal/log"
	"github.com/nogataka/cc-discussion/internal/orchestrator"
	"github.com/nogataka/cc-discussion/internal/prompts"
	"github.com/nogataka/cc-discussion/internal/repository"
	"github.com/nogataka/cc-discussion/internal/server"
	"github.com/nogataka/cc-discussion/internal/settings"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the discussion API server",
	Long: `Starts the HTTP and WebSocket server that hosts discussion rooms.

Rooms persist to Postgres when database_url is configured, otherwise to an
in-memory store that lives for the duration of the process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logPath := cfg.LogPath
	if logPath == "" {
		logPath = log.DefaultPath()
	}
	if err := log.Init(logPath); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	library, err := prompts.LoadBuiltin()
	if err != nil {
		return fmt.Errorf("load prompt templates: %w", err)
	}

	st := settings.NewStore(settings.DefaultPath())
	svc := orchestrator.NewService(store, library, cfg, st)
	srv := server.New(store, svc, cfg, st)

	fmt.Printf("Serving on %s\n", cfg.Server.Addr)
	if err := srv.Run(ctx); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// openStore selects Postgres when configured, in-memory otherwise.
func openStore(ctx context.Context, cfg config.Config) (repository.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info(log.CatConfig, "Using in-memory store")
		return repository.NewMemory(), func() {}, nil
	}

	pool, err := repository.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	pg := repository.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	log.Info(log.CatConfig, "Using postgres store")
	return pg, pool.Close, nil
}
