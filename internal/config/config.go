package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	OneClick  OneClickConfig  `yaml:"oneclick"`
	Signer    SignerConfig    `yaml:"signer"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	NATS      NATSConfig      `yaml:"nats"`
	CORS      CORSConfig      `yaml:"cors"`
	Admin     AdminConfig     `yaml:"admin"`

	Networks map[string]NetworkConfig `yaml:"networks"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
// Driver "postgres" is the durable backend; "memory" keeps records in-process
// for local development and tests.
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// OneClickConfig swap aggregator configuration
type OneClickConfig struct {
	BaseURL            string `yaml:"baseUrl"`
	JWT                string `yaml:"jwt"`
	OriginAsset        string `yaml:"originAsset"`   // asset users deposit (nep141 id)
	OriginDecimals     int    `yaml:"originDecimals"` // decimals of the origin asset
	RefundAddress      string `yaml:"refundAddress"` // origin-chain refund target
	Referral           string `yaml:"referral"`
	SlippageTolerance  int    `yaml:"slippageTolerance"` // basis points
	QuoteWaitingTimeMs int    `yaml:"quoteWaitingTimeMs"`
	QuoteDeadlineSec   int    `yaml:"quoteDeadlineSec"` // swap window requested in quotes
	Timeout            int    `yaml:"timeout"`          // request timeout (seconds)
}

// SignerConfig MPC signer service configuration
type SignerConfig struct {
	ServiceURL  string `yaml:"serviceUrl"`
	AuthToken   string `yaml:"authToken"`
	RootAccount string `yaml:"rootAccount"` // stable root identity keys derive from
	Timeout     int    `yaml:"timeout"`     // request timeout (seconds); MPC rounds are slow
}

// ReconcileConfig reconciliation sweep configuration
type ReconcileConfig struct {
	IntervalSec    int `yaml:"intervalSec"`    // sweep cadence, default 5s
	MaxConcurrency int `yaml:"maxConcurrency"` // records processed in parallel per sweep
}

// NATSConfig NATS event publishing configuration (optional)
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
	Timeout       int    `yaml:"timeout"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// AdminConfig operator API access control configuration
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowedIPs"` // IP addresses or CIDR ranges
	JWTSecret  string   `yaml:"jwtSecret"`  // bearer token secret for operator endpoints
}

// NetworkConfig destination network configuration
type NetworkConfig struct {
	ChainID          int64    `yaml:"chainId"`
	Name             string   `yaml:"name"`
	RPCEndpoints     []string `yaml:"rpcEndpoints"`
	USDCContract     string   `yaml:"usdcContract"`     // EIP-3009 token the payment draws on
	USDCDomainName   string   `yaml:"usdcDomainName"`   // EIP-712 domain name, e.g. "USD Coin"
	USDCVersion      string   `yaml:"usdcVersion"`      // EIP-712 domain version
	DestinationAsset string   `yaml:"destinationAsset"` // aggregator asset id for USDC on this chain
	GasPrice         string   `yaml:"gasPrice"`         // wei
	GasLimit         uint64   `yaml:"gasLimit"`
	BroadcastTx      bool     `yaml:"broadcastTx"` // true: broadcast raw tx; false: X-PAYMENT header only
	Enabled          bool     `yaml:"enabled"`
}

var AppConfig *Config

// LoadConfig loads the configuration file, preferring config.local.yaml when present
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)
	overrideFromEnv(&config)

	log.Printf("📋 [Config] Loaded configuration from %s (aggregator: %s, networks: %d)",
		configPath, config.OneClick.BaseURL, len(config.Networks))

	AppConfig = &config
	return nil
}

// applyDefaults fills in defaults for optional settings
func applyDefaults(config *Config) {
	if config.Database.Driver == "" {
		config.Database.Driver = "postgres"
	}
	if config.OneClick.BaseURL == "" {
		config.OneClick.BaseURL = "https://1click.chaindefuser.com"
	}
	if config.OneClick.OriginAsset == "" {
		config.OneClick.OriginAsset = "nep141:zec.omft.near"
	}
	if config.OneClick.OriginDecimals <= 0 {
		config.OneClick.OriginDecimals = 8
	}
	if config.OneClick.SlippageTolerance <= 0 {
		config.OneClick.SlippageTolerance = 100
	}
	if config.OneClick.QuoteWaitingTimeMs <= 0 {
		config.OneClick.QuoteWaitingTimeMs = 3000
	}
	if config.OneClick.QuoteDeadlineSec <= 0 {
		config.OneClick.QuoteDeadlineSec = 1800
	}
	if config.Signer.Timeout <= 0 {
		config.Signer.Timeout = 60
	}
	if config.Reconcile.IntervalSec <= 0 {
		config.Reconcile.IntervalSec = 5
	}
	if config.Reconcile.MaxConcurrency <= 0 {
		config.Reconcile.MaxConcurrency = 8
	}
	if config.NATS.SubjectPrefix == "" {
		config.NATS.SubjectPrefix = "anypay"
	}
}

// overrideFromEnv overrides configuration from environment variables
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// Aggregator configuration
	if baseURL := os.Getenv("ONE_CLICK_API_URL"); baseURL != "" {
		config.OneClick.BaseURL = baseURL
	}
	if jwt := os.Getenv("ONE_CLICK_JWT"); jwt != "" {
		config.OneClick.JWT = jwt
	}
	if refund := os.Getenv("REFUND_ORIGIN_ADDRESS"); refund != "" {
		config.OneClick.RefundAddress = refund
	}
	if origin := os.Getenv("ORIGIN_ASSET"); origin != "" {
		config.OneClick.OriginAsset = origin
	}

	// Signer configuration
	if signerURL := os.Getenv("SIGNER_SERVICE_URL"); signerURL != "" {
		config.Signer.ServiceURL = signerURL
	}
	if signerToken := os.Getenv("SIGNER_AUTH_TOKEN"); signerToken != "" {
		config.Signer.AuthToken = signerToken
	}
	if rootAccount := os.Getenv("SIGNER_ROOT_ACCOUNT"); rootAccount != "" {
		config.Signer.RootAccount = rootAccount
	}
	if signerTimeout := os.Getenv("SIGNER_TIMEOUT"); signerTimeout != "" {
		if t, err := strconv.Atoi(signerTimeout); err == nil {
			config.Signer.Timeout = t
		}
	}

	// Reconciliation configuration
	if interval := os.Getenv("RECONCILE_INTERVAL_SEC"); interval != "" {
		if v, err := strconv.Atoi(interval); err == nil {
			config.Reconcile.IntervalSec = v
		}
	}

	// NATS configuration
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}

	// Admin configuration
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		config.Admin.JWTSecret = secret
	}

	// Per-network overrides
	for networkName, networkConfig := range config.Networks {
		envRPC := fmt.Sprintf("%s_RPC_ENDPOINTS", strings.ToUpper(networkName))
		if rpcEndpoints := os.Getenv(envRPC); rpcEndpoints != "" {
			networkConfig.RPCEndpoints = strings.Split(rpcEndpoints, ",")
		}

		envGasPrice := fmt.Sprintf("%s_GAS_PRICE", strings.ToUpper(networkName))
		if gasPrice := os.Getenv(envGasPrice); gasPrice != "" {
			networkConfig.GasPrice = gasPrice
		}

		envGasLimit := fmt.Sprintf("%s_GAS_LIMIT", strings.ToUpper(networkName))
		if gasLimit := os.Getenv(envGasLimit); gasLimit != "" {
			if limit, err := strconv.ParseUint(gasLimit, 10, 64); err == nil {
				networkConfig.GasLimit = limit
			}
		}

		config.Networks[networkName] = networkConfig
	}

	// CORS configuration
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}
}

// GetNetworkConfig returns the configuration of an enabled destination network
func GetNetworkConfig(networkName string) (*NetworkConfig, error) {
	if AppConfig == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	network, exists := AppConfig.Networks[networkName]
	if !exists {
		return nil, fmt.Errorf("network %s not found in config", networkName)
	}

	if !network.Enabled {
		return nil, fmt.Errorf("network %s is disabled", networkName)
	}

	return &network, nil
}
