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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/znz-systems/boxmeta/internal/acl"
	"github.com/znz-systems/boxmeta/internal/auth"
	"github.com/znz-systems/boxmeta/internal/authz"
	"github.com/znz-systems/boxmeta/internal/blob"
	"github.com/znz-systems/boxmeta/internal/config"
	"github.com/znz-systems/boxmeta/internal/database"
	"github.com/znz-systems/boxmeta/internal/mailbox"
	"github.com/znz-systems/boxmeta/internal/message"
	"github.com/znz-systems/boxmeta/internal/metrics"
	"github.com/znz-systems/boxmeta/internal/ratelimit"
	"github.com/znz-systems/boxmeta/internal/rights"
	"github.com/znz-systems/boxmeta/internal/store"
	"github.com/znz-systems/boxmeta/internal/store/memory"
	"github.com/znz-systems/boxmeta/internal/store/postgres"
	"github.com/znz-systems/boxmeta/internal/store/sqlite"
	"github.com/znz-systems/boxmeta/internal/web"
	"github.com/znz-systems/boxmeta/internal/web/handlers"
	"github.com/znz-systems/boxmeta/migrations"
)

func main() {
	hashToken := flag.Bool("hash-token", false, "generate an API token, print it with its bcrypt hash and exit")
	flag.Parse()

	if *hashToken {
		if err := printToken(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	if err := run(cfg); err != nil {
		slog.Error("boxmeta stopped", "error", err)
		os.Exit(1)
	}
}

func printToken() error {
	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Printf("token: %s\nAPI_TOKEN_HASH=%s\n", token, hash)
	return nil
}

// openBackend opens the configured metadata store and brings its schema up
// to date.
func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.StoreBackend {
	case "memory":
		slog.Warn("using in-memory store, data is lost on exit")
		return memory.New(), nil
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := database.RunMigrations(migrations.FS, st.DB(), sqlite.Dialect.Name); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return st, nil
	default:
		st, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := database.RunMigrations(migrations.FS, st.DB(), postgres.Dialect.Name); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return st, nil
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	blobs, err := blob.NewFromConfig(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	globalACL, err := rights.ParseACL(cfg.GlobalACL)
	if err != nil {
		return fmt.Errorf("invalid GLOBAL_ACL: %w", err)
	}
	groups, err := authz.ParseGroups(cfg.Groups)
	if err != nil {
		return fmt.Errorf("invalid GROUPS: %w", err)
	}

	// Services
	aclService := acl.NewService(backend, acl.Options{
		MaxRetries: cfg.ACLMaxRetries,
		Listener:   acl.LogListener{},
		Observer:   metrics.CAS{},
	})
	messageService := message.NewService(backend, blobs, message.Options{
		MaxRetries: cfg.FlagsMaxRetries,
		Observer:   metrics.CAS{},
	})
	mailboxService := mailbox.NewService(backend)
	checker := authz.NewChecker(authz.NewResolver(globalACL, groups), mailboxService, aclService, authz.CheckerOptions{
		DisableOwnerRights: cfg.DisableOwnerRights,
	})

	verifier := auth.NewVerifier(cfg.APITokenHash)
	if !verifier.Enabled() {
		slog.Warn("API_TOKEN_HASH is not set, the API accepts unauthenticated requests")
	}

	router := web.NewRouter(web.RouterDeps{
		MailboxHandler: handlers.NewMailboxHandler(mailboxService, messageService, checker),
		ACLHandler:     handlers.NewACLHandler(checker),
		MessageHandler: handlers.NewMessageHandler(messageService, checker, 0),
		Verifier:       verifier,
		Limiter:        ratelimit.NewLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("boxmeta starting", "addr", addr, "store", cfg.StoreBackend, "blob", cfg.Blob.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
