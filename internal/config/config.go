package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName       = "KasaWallet"
	defaultAppEnv        = "development"
	defaultPort          = "8080"
	defaultLogLevel      = "info"
	defaultShutdownDelay = 10 * time.Second
	defaultIdemTTL       = 24 * time.Hour

	defaultBitcoinNetwork  = "mainnet"
	defaultEthereumChainID = 1

	defaultBroadcastAttempts = 3
	defaultBroadcastBackoff  = 2 * time.Second
)

// HotWalletKeys carries the signing key material configured at startup. Keys
// are loaded exactly once and injected into the signers; they are never read
// from the environment again after Load returns.
type HotWalletKeys struct {
	BitcoinWIF         string
	EthereumPrivateKey string
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// Chain access.
	BitcoinNetwork  string // mainnet or testnet
	BitcoinAPIURL   string // BlockCypher-style REST endpoint
	EthereumRPCURL  string // JSON-RPC endpoint
	EthereumChainID *big.Int
	USDTContract    string // ERC-20 token contract address

	// Broadcast policy. Simulated mode must be requested explicitly; it is
	// never inferred from a missing provider URL.
	BroadcastSimulated bool
	BroadcastAttempts  int
	BroadcastBackoff   time.Duration

	HotWallet HotWalletKeys
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdemTTL,
		BitcoinNetwork:    getEnv("BITCOIN_NETWORK", defaultBitcoinNetwork),
		BitcoinAPIURL:     os.Getenv("BITCOIN_API_URL"),
		EthereumRPCURL:    os.Getenv("ETHEREUM_RPC_URL"),
		EthereumChainID:   big.NewInt(defaultEthereumChainID),
		USDTContract:      os.Getenv("USDT_CONTRACT_ADDRESS"),
		BroadcastAttempts: defaultBroadcastAttempts,
		BroadcastBackoff:  defaultBroadcastBackoff,
		HotWallet: HotWalletKeys{
			BitcoinWIF:         os.Getenv("BTC_HOT_WALLET_WIF"),
			EthereumPrivateKey: os.Getenv("ETH_HOT_WALLET_KEY"),
		},
	}

	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv("IDEMPOTENCY_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid IDEMPOTENCY_TTL: %w", err)
		}
		cfg.IdempotencyTTL = d
	}

	if v := os.Getenv("ETHEREUM_CHAIN_ID"); v != "" {
		id, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return Config{}, fmt.Errorf("invalid ETHEREUM_CHAIN_ID: %q", v)
		}
		cfg.EthereumChainID = id
	}

	if v := os.Getenv("BROADCAST_MODE"); v != "" {
		switch strings.ToLower(v) {
		case "live":
		case "simulated":
			cfg.BroadcastSimulated = true
		default:
			return Config{}, fmt.Errorf("invalid BROADCAST_MODE %q: must be live or simulated", v)
		}
	}

	if v := os.Getenv("BROADCAST_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid BROADCAST_ATTEMPTS: %q", v)
		}
		cfg.BroadcastAttempts = n
	}

	if v := os.Getenv("BROADCAST_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BROADCAST_BACKOFF: %w", err)
		}
		cfg.BroadcastBackoff = d
	}

	switch cfg.BitcoinNetwork {
	case "mainnet", "testnet":
	default:
		return Config{}, fmt.Errorf("invalid BITCOIN_NETWORK %q: must be mainnet or testnet", cfg.BitcoinNetwork)
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}

	if !cfg.BroadcastSimulated {
		if cfg.BitcoinAPIURL == "" || cfg.EthereumRPCURL == "" {
			return Config{}, fmt.Errorf("live broadcast mode requires BITCOIN_API_URL and ETHEREUM_RPC_URL (set BROADCAST_MODE=simulated to run without providers)")
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
