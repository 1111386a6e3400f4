package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	c "github.com/fjod/go_cart/cart-engine/internal/cache"
	"github.com/fjod/go_cart/cart-engine/internal/catalog"
	"github.com/fjod/go_cart/cart-engine/internal/circuitbreaker"
	"github.com/fjod/go_cart/cart-engine/internal/config"
	"github.com/fjod/go_cart/cart-engine/internal/engine"
	cartgrpc "github.com/fjod/go_cart/cart-engine/internal/grpc"
	h "github.com/fjod/go_cart/cart-engine/internal/http"
	"github.com/fjod/go_cart/cart-engine/internal/localstore"
	"github.com/fjod/go_cart/cart-engine/internal/logger"
	"github.com/fjod/go_cart/cart-engine/internal/poller"
	"github.com/fjod/go_cart/cart-engine/internal/repository"
	s "github.com/fjod/go_cart/cart-engine/internal/service"
	"github.com/fjod/go_cart/cart-engine/internal/session"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logg := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Set up MongoDB connection
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		fatal("failed to connect to MongoDB", err)
	}
	defer mongoDB.Client().Disconnect(context.Background())

	repo := repository.NewMongoRepository(mongoDB)
	if err := repo.CreateIndexes(ctx); err != nil {
		fatal("failed to create cart indexes", err)
	}
	logg.Info("connected to MongoDB", "database", cfg.MongoDBName)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		fatal("redis connection failed", err)
	}
	logg.Info("redis ping succeeded", "addr", cfg.RedisAddr)

	products, err := catalog.NewRepository(cfg.CatalogDriver, cfg.CatalogDSN)
	if err != nil {
		fatal("failed to open catalog", err)
	}
	defer products.Close()
	if err := products.RunMigrations(cfg.MigrationsPath); err != nil {
		fatal("failed to migrate catalog", err)
	}
	logg.Info("catalog ready", "driver", cfg.CatalogDriver)

	lookup := catalog.NewGuardedLookup(products, circuitbreaker.DefaultOptions(), logg)
	carts := s.NewAccountCarts(repo, c.NewRedisCache(redisClient), logg)
	local := localstore.NewRedisStore(redisClient, logg)

	registry := session.NewRegistry(func(sessionID string) *engine.Engine {
		sessionLog := logg.With("session_id", sessionID)
		return engine.New(local.Session(sessionID), carts, lookup,
			engine.WithLogger(sessionLog),
			engine.WithCurrency(cfg.StoreCurrency),
			engine.WithPersistTimeout(cfg.PersistTimeout),
			engine.WithListener(eventLogger(sessionLog)),
		)
	}, session.WithIdleTimeout(cfg.SessionIdleTimeout), session.WithLogger(logg))

	healthServer := health.NewServer()
	reporter := cartgrpc.NewReporter(healthServer, []cartgrpc.Check{
		{Name: "mongodb", Probe: func(ctx context.Context) error { return repository.Ping(ctx, mongoDB) }},
		{Name: "redis", Probe: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		{Name: "catalog", Probe: func(ctx context.Context) error {
			if err := lookup.Check(ctx); err != nil {
				return err
			}
			return products.Ping(ctx)
		}},
	}, cartgrpc.WithLogger(logg))

	checkoutPoller := poller.NewPoller(carts, registry, logg, cfg.CheckoutTopic, cfg.KafkaBrokers...)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.NewRouter(h.NewCartHandler(registry, cfg.RequestTimeout, logg), reporter, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		fatal("failed to listen", err)
	}
	grpcServer := cartgrpc.NewServer(healthServer)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		reporter.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		checkoutPoller.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		logg.Info("ops gRPC server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			logg.Error("gRPC server stopped", "error", err)
		}
	}()
	go func() {
		logg.Info("cart service listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down cart service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server forced to shutdown", "error", err)
	}
	// engines flush their queued writes before the stores go away
	registry.Close()
	grpcServer.GracefulStop()
	checkoutPoller.Close()
	wg.Wait()

	logg.Info("cart service stopped")
}

func eventLogger(log *slog.Logger) engine.Listener {
	return func(ev engine.Event) {
		attrs := []any{"event", string(ev.Type), "identity", ev.Identity.String()}
		if ev.ProductID != 0 {
			attrs = append(attrs, "product_id", ev.ProductID)
		}
		if ev.Err != nil {
			attrs = append(attrs, "error", ev.Err)
			log.Warn("cart event", attrs...)
			return
		}
		log.Debug("cart event", attrs...)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
