package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/cpqcart/internal/bus"
	"github.com/fjod/cpqcart/internal/cache"
	"github.com/fjod/cpqcart/internal/cart"
	"github.com/fjod/cpqcart/internal/catalog"
	"github.com/fjod/cpqcart/internal/config"
	h "github.com/fjod/cpqcart/internal/http"
	"github.com/fjod/cpqcart/internal/logger"
	"github.com/fjod/cpqcart/internal/remote"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const redisBusChannel = "cpq:bus"

type bridge interface {
	Start(ctx context.Context) error
	Close() error
}

func main() {
	cfg, err := config.LoadCartSync()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := logger.Setup(cfg.LogLevel, cfg.LogPretty); err != nil {
		log.Fatal().Err(err).Msg("logger setup failed")
	}
	fields, err := config.LoadFieldMap(cfg.FieldMapFile)
	if err != nil {
		log.Fatal().Err(err).Msg("field map load failed")
	}
	policy, err := cart.ParseAddFailurePolicy(cfg.AddFailurePolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid add failure policy")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, closeTransport, err := newTransport(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("pricing transport setup failed")
	}
	defer closeTransport()
	client := remote.NewClient(transport)

	b := bus.New()
	defer b.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connection failed")
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis ping succeeded")
	}

	br, err := newBridge(cfg, b, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("bus bridge setup failed")
	}
	if br != nil {
		if err := br.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("bridge", cfg.BusBridge).Msg("bus bridge start failed")
		}
		defer br.Close()
		log.Info().Str("bridge", cfg.BusBridge).Msg("bus bridge started")
	}

	var catalogCache cache.CatalogCache = cache.NewLRUCache(128, cfg.CatalogCacheTTL)
	if redisClient != nil {
		catalogCache = cache.NewRedisCache(redisClient, cfg.CatalogCacheTTL)
	}

	store := cart.NewStore(cfg.CartID, client, b,
		cart.WithFieldMap(fields),
		cart.WithAddFailurePolicy(policy),
	)
	emitter := catalog.NewEmitter(cfg.CartID, client, b,
		catalog.WithCache(catalogCache),
		catalog.WithFieldMap(fields),
	)

	// remote failures are kept on the state and shown to views; only a
	// closed bus stops the boot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := store.Start(gctx)
		if errors.Is(err, bus.ErrClosed) {
			return err
		}
		if err != nil {
			log.Warn().Err(err).Str("cart_id", cfg.CartID).Msg("cart started with errors")
		}
		return nil
	})
	g.Go(func() error {
		if err := emitter.Load(gctx); err != nil {
			log.Warn().Err(err).Str("cart_id", cfg.CartID).Msg("catalog not loaded")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("boot failed")
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	handler := h.NewHandler(store, emitter, b, cfg.RequestTimeout)
	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(handler, h.RouterConfig{
			RequestTimeout: cfg.RequestTimeout,
			RowActionRate:  cfg.RowActionRate,
			RowActionBurst: cfg.RowActionBurst,
		}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Str("cart_id", cfg.CartID).Msg("cartsync listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Warn().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// ends event streams so Shutdown does not wait on them
	cancelBase()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	store.Close()
	drained := make(chan struct{})
	go func() {
		store.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn().Msg("in-flight cart calls abandoned")
	}

	log.Info().Msg("cartsync stopped")
}

func newTransport(cfg *config.CartSync) (remote.Transport, func(), error) {
	switch cfg.PricingTransport {
	case config.TransportHTTP:
		return remote.NewHTTPTransport(cfg.PricingHTTPURL, nil), func() {}, nil
	default:
		conn, err := remote.Dial(cfg.PricingGRPCAddr)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("addr", cfg.PricingGRPCAddr).Msg("pricing service client ready")
		return remote.NewGRPCTransport(conn), func() { conn.Close() }, nil
	}
}

func newBridge(cfg *config.CartSync, b *bus.Bus, redisClient *redis.Client) (bridge, error) {
	switch cfg.BusBridge {
	case config.BridgeKafka:
		return bus.NewKafkaBridge(b, bus.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, bus.TopicAddProduct), nil
	case config.BridgeRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis bridge needs REDIS_ADDR")
		}
		return bus.NewRedisBridge(b, redisClient, redisBusChannel, bus.TopicAddProduct), nil
	default:
		return nil, nil
	}
}
