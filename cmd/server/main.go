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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/oddsight/pnl-engine/internal/api"
	"github.com/oddsight/pnl-engine/internal/cache"
	"github.com/oddsight/pnl-engine/internal/chain"
	"github.com/oddsight/pnl-engine/internal/config"
	"github.com/oddsight/pnl-engine/internal/engine"
	"github.com/oddsight/pnl-engine/internal/metrics"
	"github.com/oddsight/pnl-engine/internal/notify"
	"github.com/oddsight/pnl-engine/internal/poll"
	"github.com/oddsight/pnl-engine/internal/seen"
	"github.com/oddsight/pnl-engine/internal/source"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Query source ---
	var src source.Source
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		src = source.NewPostgresSource(pool)
		slog.Info("reading ledger from PostgreSQL index")
	} else {
		src = source.NewGraphSource(cfg.IndexerURL, &http.Client{Timeout: 30 * time.Second})
		slog.Info("reading ledger from GraphQL indexer", "url", cfg.IndexerURL)
	}

	// --- Chain balance reader ---
	var balances chain.BalanceReader
	if cfg.RPCURL != "" {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			slog.Error("rpc connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, client.Close)
		balances = chain.NewERC20Reader(client, common.HexToAddress(cfg.CollateralToken))
		slog.Info("chain balance reads enabled", "token", cfg.CollateralToken)
	} else {
		slog.Warn("RPC_URL not set, portfolios will carry zero cash contributions")
	}

	// --- Engine ---
	eng := engine.New(src, balances, engine.Config{
		PageSize:           cfg.PageSize,
		PositionDecimals:   cfg.PositionDecimals,
		CollateralDecimals: cfg.CollateralDecimals,
		Concurrency:        cfg.Concurrency,
	})

	// --- Report cache ---
	var reportCache *cache.ReportCache
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		reportCache = cache.New(rdb, cfg.CacheTTL)
		slog.Info("report cache enabled", "ttl", cfg.CacheTTL)
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- Poller ---
	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.PollInterval > 0 {
		store, err := seen.Open(cfg.SeenStatePath)
		if err != nil {
			slog.Error("seen-state load failed", "err", err)
			os.Exit(1)
		}
		var notifier notify.Notifier
		if cfg.TelegramToken != "" {
			notifier = notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, nil)
		}
		poller := poll.New(eng, src, store, notifier, wsHub,
			cfg.PollInterval, cfg.PageSize, cfg.PositionDecimals)
		go poller.Run(rootCtx)
	}

	// --- HTTP router ---
	svc := api.NewService(eng, reportCache)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"pnl-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for market metrics pushes.
		r.Get("/ws", wsHub.HandleWS)

		// Single-wallet reports.
		r.Get("/wallets/{address}/portfolio", svc.GetPortfolio)
		r.Get("/wallets/{address}/positions", svc.GetPositions)

		// Global reports.
		r.Get("/markets/metrics", svc.GetMarketMetrics)
		r.Get("/leaderboard", svc.GetLeaderboard)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("pnl-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down pnl-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("pnl-engine stopped")
}
