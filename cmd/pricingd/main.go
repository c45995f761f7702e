package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/cpqcart/internal/config"
	"github.com/fjod/cpqcart/internal/domain"
	h "github.com/fjod/cpqcart/internal/http"
	"github.com/fjod/cpqcart/internal/logger"
	"github.com/fjod/cpqcart/internal/metrics"
	"github.com/fjod/cpqcart/internal/pricing"
	"github.com/fjod/cpqcart/internal/remote"
	"github.com/fjod/cpqcart/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
)

func main() {
	cfg, err := config.LoadPricingd()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := logger.Setup(cfg.LogLevel, cfg.LogPretty); err != nil {
		log.Fatal().Err(err).Msg("logger setup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	book, err := repository.NewPriceBook(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open price book")
	}
	defer book.Close()
	if err := book.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Str("path", cfg.DBPath).Msg("price book ready")

	lines, closeLines, err := newLineRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("line_store", cfg.LineStore).Msg("failed to set up line store")
	}
	defer closeLines()

	svc := pricing.NewService(lines, book, domain.DefaultFieldMap())

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("failed to listen")
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	remote.RegisterInvokeServer(grpcServer, svc)

	go func() {
		log.Info().Str("port", cfg.GRPCPort).Msg("pricing gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("failed to serve gRPC")
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Method(http.MethodPost, "/invoke", remote.NewHTTPHandler(svc))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(r, "pricingd"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("pricing HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Warn().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("pricingd stopped")
}

func newLineRepository(ctx context.Context, cfg *config.Pricingd) (repository.LineRepository, func(), error) {
	if cfg.LineStore != config.LineStoreMongo {
		log.Info().Msg("using in-memory line store")
		return repository.NewMemoryLineRepository(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := repository.ConnectMongoDB(connectCtx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return nil, nil, err
	}
	disconnect := func() {
		if err := db.Client().Disconnect(context.Background()); err != nil {
			log.Error().Err(err).Msg("mongo disconnect failed")
		}
	}
	lines := repository.NewMongoLineRepository(db)
	if err := repository.EnsureIndexes(connectCtx, lines); err != nil {
		disconnect()
		return nil, nil, err
	}
	log.Info().Str("db", cfg.MongoDBName).Msg("using MongoDB line store")
	return lines, disconnect, nil
}
