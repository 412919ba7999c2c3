package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/api"
	"github.com/Maphikza/tipbot-engine/internal/command"
	"github.com/Maphikza/tipbot-engine/internal/config"
	tipstatedb "github.com/Maphikza/tipbot-engine/internal/database"
	"github.com/Maphikza/tipbot-engine/internal/ipc"
	"github.com/Maphikza/tipbot-engine/internal/logger"
	"github.com/Maphikza/tipbot-engine/internal/pending"
	"github.com/Maphikza/tipbot-engine/internal/transfer"
	"github.com/Maphikza/tipbot-engine/lib/ledger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var noHTTP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine behind the IPC socket and HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noHTTP, "no-http", false, "only listen on the IPC socket")
}

func serve(ctx context.Context) error {
	if !noHTTP && cfg.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret must be set to serve HTTP (or pass --no-http)")
	}

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("shutdown step failed", "error", err)
			}
		}
	}()

	db, err := tipstatedb.Open(databaseOptions())
	if err != nil {
		return err
	}
	if err := tipstatedb.AutoMigrate(db); err != nil {
		return err
	}
	store := tipstatedb.NewStore(db)

	pendingStore, closePending, err := openPendingStore(ctx, cfg, tipstatedb.NewPendingStore(db))
	if err != nil {
		return err
	}
	if closePending != nil {
		closers = append(closers, closePending)
	}

	ledgers, rules, ledgerClosers, err := buildLedgers(ctx, cfg)
	closers = append(closers, ledgerClosers...)
	if err != nil {
		return err
	}

	engine := transfer.New(transfer.Options{
		Coins:             rules,
		TTL:               cfg.MetaTTL(),
		BatchSize:         cfg.Transfer.BatchSize,
		MemberWindow:      cfg.Transfer.MemberWindow,
		LookupConcurrency: cfg.Transfer.LookupConcurrency,
	}, transfer.Stores{
		Users:    store,
		Wallets:  store,
		Settings: store,
		Members:  store,
		Pending:  pendingStore,
	}, ledgers)
	router := command.NewRouter(engine, store)

	ipcServer, err := ipc.NewServer(cfg.IPC.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to start ipc server: %w", err)
	}
	closers = append(closers, ipcServer.Close)

	logger.Info("tipbot engine started",
		"coins", ledgers.Tickers(),
		"pending_store", cfg.Pending.Store,
		"socket", cfg.IPC.SocketPath,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ipcServer.Serve(gctx, router.Execute)
		return nil
	})
	if !noHTTP {
		httpServer := api.NewServer(router, api.Options{
			Port:        cfg.API.Port,
			JWTSecret:   []byte(cfg.API.JWTSecret),
			MetricsPath: cfg.API.MetricsPath,
		})
		g.Go(func() error {
			return httpServer.Start(gctx)
		})
	}
	return g.Wait()
}

func openPendingStore(ctx context.Context, cfg *config.Config, sql *tipstatedb.PendingStore) (transfer.PendingStore, func() error, error) {
	switch cfg.Pending.Store {
	case "memory":
		logger.Warn("staged transactions are kept in memory and lost on restart")
		return pending.NewMemoryStore(), nil, nil
	case "redis":
		store, closeFn, err := pending.NewRedisStoreFromConfig(ctx, pending.RedisConfig{
			Addr:      cfg.Pending.Redis.Addr,
			Password:  cfg.Pending.Redis.Password,
			DB:        cfg.Pending.Redis.DB,
			KeyPrefix: cfg.Pending.Redis.Prefix,
		}, cfg.MetaTTL())
		if err != nil {
			return nil, nil, err
		}
		return store, closeFn, nil
	default:
		return sql, nil, nil
	}
}

// buildLedgers connects every configured coin to its wallet daemon and
// balance source.
func buildLedgers(ctx context.Context, cfg *config.Config) (*ledger.Registry, map[string]transfer.CoinRules, []func() error, error) {
	registry := ledger.NewRegistry()
	rules := make(map[string]transfer.CoinRules, len(cfg.Coins))
	var closers []func() error

	for ticker, coinCfg := range cfg.Coins {
		coin := coinCfg.Coin(ticker)

		tip, err := bounds(coinCfg.Tip, coin)
		if err != nil {
			return nil, nil, closers, fmt.Errorf("coin %s tip: %w", ticker, err)
		}
		rain, err := bounds(coinCfg.Rain, coin)
		if err != nil {
			return nil, nil, closers, fmt.Errorf("coin %s rain: %w", ticker, err)
		}

		wallet, err := ledger.DialWalletRPC(ctx, ledger.RPCConfig{
			URL:      coinCfg.RPC.URL,
			Username: coinCfg.RPC.Username,
			Password: coinCfg.RPC.Password,
			Timeout:  cfg.RPC.Timeout,
		})
		if err != nil {
			return nil, nil, closers, fmt.Errorf("coin %s: %w", ticker, err)
		}
		closers = append(closers, func() error { wallet.Close(); return nil })

		var balances ledger.BalanceSource = wallet
		if coinCfg.BalanceSource == "electrum" {
			electrum, err := ledger.NewElectrumBalances(ctx, ledger.ElectrumConfig{
				ServerAddr: coinCfg.Electrum.Server,
				UseSSL:     coinCfg.Electrum.SSL,
				Network:    coinCfg.Electrum.Network,
				Timeout:    cfg.RPC.Timeout,
			})
			if err != nil {
				return nil, nil, closers, fmt.Errorf("coin %s: %w", ticker, err)
			}
			closers = append(closers, func() error { electrum.Close(); return nil })
			balances = electrum
		}

		if err := registry.Register(&ledger.Adapter{Coin: coin, Ledger: wallet, Balances: balances}); err != nil {
			return nil, nil, closers, err
		}
		rules[coin.Ticker] = transfer.CoinRules{Coin: coin, Tip: tip, Rain: rain}
	}
	return registry, rules, closers, nil
}

func bounds(rule config.AmountRule, coin ledger.Coin) (transfer.Bounds, error) {
	min, max, def, err := rule.Bounds(coin)
	if err != nil {
		return transfer.Bounds{}, err
	}
	return transfer.Bounds{Min: min, Max: max, Default: def}, nil
}

func parseTTL(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", s, err)
	}
	return d, nil
}
