// Package server wires the chat engine together: storage, services, the
// realtime websocket server, the HTTP surface and the gRPC health endpoint.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/server/auth"
	"github.com/dmitrijs2005/gophchat/internal/server/config"
	"github.com/dmitrijs2005/gophchat/internal/server/httpserver"
	"github.com/dmitrijs2005/gophchat/internal/server/realtime"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophchat/internal/server/services"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/gophchat/internal/server/grpc"
)

const sessionShutdownTimeout = 5 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	repos    repomanager.RepositoryManager
	realtime *realtime.Server
	http     *httpserver.Server
	grpc     *gs.GRPCServer
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))

	db, err := repomanager.OpenPostgres(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()

	us := services.NewUserService(db, rm)
	cs := services.NewChatService(db, rm, logger)
	ms := services.NewMediaService(c)
	verifier := auth.NewVerifier([]byte(c.SecretKey), us)

	rt := realtime.NewServer(verifier, cs, ms, realtime.OptionsFromConfig(c), logger)

	h := httpserver.NewHandler(verifier, rt, db, c.AllowedOrigins, logger)
	hs := httpserver.NewServer(c.EndpointAddrHTTP, httpserver.WithCORS(h.SetupRouter(), c.AllowedOrigins), logger)

	grpcServer := gs.NewGRPCServer(c.EndpointAddrGRPC, logger, db, c.HealthCheckInterval)

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		repos:    rm,
		realtime: rt,
		http:     hs,
		grpc:     grpcServer,
	}, nil
}

// Run migrates the schema and serves until SIGINT/SIGTERM or until one of
// the servers fails.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	defer app.db.Close()

	app.logger.Info(ctx, "Starting app...")

	if err := app.repos.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.http.Run(ctx) })
	g.Go(func() error { return app.grpc.Run(ctx) })
	g.Go(func() error { return app.grpc.WatchStore(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), sessionShutdownTimeout)
		defer cancel()
		app.logger.Info(ctx, "Closing realtime sessions...", "sessions", app.realtime.SessionCount())
		return app.realtime.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}
