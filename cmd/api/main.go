package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/address"
	"github.com/kasa-exchange/kasa/internal/balance"
	"github.com/kasa-exchange/kasa/internal/broadcast"
	"github.com/kasa-exchange/kasa/internal/config"
	"github.com/kasa-exchange/kasa/internal/currency"
	"github.com/kasa-exchange/kasa/internal/fees"
	"github.com/kasa-exchange/kasa/internal/infra"
	"github.com/kasa-exchange/kasa/internal/ledger"
	"github.com/kasa-exchange/kasa/internal/logging"
	"github.com/kasa-exchange/kasa/internal/routes"
	"github.com/kasa-exchange/kasa/internal/server"
	"github.com/kasa-exchange/kasa/internal/signer"
	"github.com/kasa-exchange/kasa/internal/twofactor"
	"github.com/kasa-exchange/kasa/internal/wallet"
	"github.com/kasa-exchange/kasa/internal/withdrawal"
)

// usdRates converts withdrawal amounts to USD notional for the
// admin-approval threshold. A production deployment feeds these from the
// pricing service.
var usdRates = map[currency.Currency]decimal.Decimal{
	currency.BTC:  decimal.NewFromInt(60_000),
	currency.ETH:  decimal.NewFromInt(2_500),
	currency.USDT: decimal.NewFromInt(1),
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	// Ledger and balance reads.
	store := ledger.NewPostgresStore(db)
	balances := balance.NewCache(cache, store, logger)
	wallets := wallet.NewService(store, balances, logger)

	// Hot wallet signers: keys are loaded exactly once here.
	signers, err := signer.New(signer.KeyMaterial{
		BitcoinWIF:            cfg.HotWallet.BitcoinWIF,
		EthereumPrivateKeyHex: cfg.HotWallet.EthereumPrivateKey,
	}, cfg.BitcoinNetwork, cfg.EthereumChainID, cfg.USDTContract)
	if err != nil {
		logger.Error("load hot wallets", "error", err)
		os.Exit(1)
	}

	validator, err := address.NewValidator(cfg.BitcoinNetwork)
	if err != nil {
		logger.Error("build address validator", "error", err)
		os.Exit(1)
	}

	withdrawalStore := withdrawal.NewPostgresStore(db)
	service := withdrawal.NewService(withdrawalStore, validator,
		fees.NewCalculator(nil, usdRates), twofactor.NewRedisVerifier(cache), balances, logger)

	workflow, err := buildWorkflow(cfg, withdrawalStore, signers, balances, logger)
	if err != nil {
		logger.Error("build withdrawal workflow", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(routes.Deps{
		Cfg:         cfg,
		DB:          db,
		Cache:       cache,
		Logger:      logger,
		Wallets:     wallets,
		Withdrawals: service,
		Workflow:    workflow,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}

// buildWorkflow wires the broadcaster and chain-data sources for the
// configured mode. Simulated mode is explicit; it is never inferred from a
// missing provider URL.
func buildWorkflow(cfg config.Config, store withdrawal.Store, signers *signer.Signer, balances *balance.Cache, logger *slog.Logger) (*withdrawal.Workflow, error) {
	var (
		clients = make(map[currency.Currency]broadcast.ChainClient)
		opts    []withdrawal.WorkflowOption
		nonces  *signer.NonceAllocator
	)

	if cfg.BroadcastSimulated {
		logger.Warn("broadcast mode is SIMULATED; no transaction will reach a real network")
		for _, cur := range []currency.Currency{currency.BTC, currency.ETH, currency.USDT} {
			clients[cur] = broadcast.NewSimulatedClient(cur)
		}
		if eth := signers.Ethereum(); eth != nil {
			nonces = signer.NewNonceAllocator(signer.FixedNonceSource(0), eth.Address())
		}
	} else {
		btcClient := broadcast.NewBitcoinClient(cfg.BitcoinAPIURL)
		ethClient := broadcast.NewEthereumClient(cfg.EthereumRPCURL)
		clients[currency.BTC] = btcClient
		clients[currency.ETH] = ethClient
		clients[currency.USDT] = ethClient
		opts = append(opts, withdrawal.WithUTXOSource(btcClient), withdrawal.WithGasOracle(ethClient))

		hot := common.Address{}
		if eth := signers.Ethereum(); eth != nil {
			hot = eth.Address()
		}
		nonces = signer.NewNonceAllocator(ethClient, hot)
	}

	caster := broadcast.New(clients, logger,
		broadcast.WithRetry(cfg.BroadcastAttempts, cfg.BroadcastBackoff))
	return withdrawal.NewWorkflow(store, signers, caster, nonces, balances, logger, opts...), nil
}
