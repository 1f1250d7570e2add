package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "LAZYTRADER"

	DefaultAPIBasePath      = "/api/maxxit"
	DefaultPollInterval     = 3 * time.Second
	DefaultNetwork          = "arbitrum-sepolia"
	DefaultMinimumAllowance = "100000000"
)

type GlobalFlags struct {
	ConfigPath     string
	EnvFile        string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	ReadOnly       bool
	Timeout        string
	Retries        int
	Network        string
	RPCURL         string
	APIOrigin      string
	LogLevel       string
}

type Settings struct {
	OutputMode       string
	SelectFields     []string
	ResultsOnly      bool
	EnableCommands   []string
	ReadOnly         bool
	Timeout          time.Duration
	Retries          int
	APIOrigin        string
	APIBasePath      string
	APITestnet       bool
	APIRateLimit     float64
	PollInterval     time.Duration
	Network          string
	RPCURLs          map[string]string
	MinimumAllowance *big.Int
	Wallet           string
	StorePath        string
	StoreLockPath    string
	LogLevel         string
	LogFormat        string
}

type fileConfig struct {
	Output   string `yaml:"output"`
	ReadOnly *bool  `yaml:"read_only"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	Network  string `yaml:"network"`
	Wallet   string `yaml:"wallet"`
	API      struct {
		Origin    string   `yaml:"origin"`
		BasePath  string   `yaml:"base_path"`
		Testnet   *bool    `yaml:"testnet"`
		RateLimit *float64 `yaml:"rate_limit"`
	} `yaml:"api"`
	Setup struct {
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"setup"`
	Permissions struct {
		MinimumAllowance string `yaml:"minimum_allowance"`
	} `yaml:"permissions"`
	RPC   map[string]string `yaml:"rpc"`
	Store struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"store"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// envConfig is filled by envconfig from LAZYTRADER_* variables. Fields stay
// strings so an unset variable can be told apart from a zero value.
type envConfig struct {
	Output              string `envconfig:"OUTPUT"`
	ReadOnly            string `envconfig:"READ_ONLY"`
	Timeout             string `envconfig:"TIMEOUT"`
	Retries             string `envconfig:"RETRIES"`
	Network             string `envconfig:"NETWORK"`
	Wallet              string `envconfig:"WALLET"`
	APIOrigin           string `envconfig:"API_ORIGIN"`
	APIBasePath         string `envconfig:"API_BASE_PATH"`
	APITestnet          string `envconfig:"API_TESTNET"`
	APIRateLimit        string `envconfig:"API_RATE_LIMIT"`
	PollInterval        string `envconfig:"POLL_INTERVAL"`
	MinimumAllowance    string `envconfig:"MINIMUM_ALLOWANCE"`
	ArbitrumRPC         string `envconfig:"ARBITRUM_RPC_URL"`
	ArbitrumSepoliaRPC  string `envconfig:"ARBITRUM_SEPOLIA_RPC_URL"`
	StorePath           string `envconfig:"STORE_PATH"`
	StoreLockPath       string `envconfig:"STORE_LOCK_PATH"`
	LogLevel            string `envconfig:"LOG_LEVEL"`
	LogFormat           string `envconfig:"LOG_FORMAT"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	if err := loadEnvFile(flags.EnvFile); err != nil {
		return Settings{}, err
	}
	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = DefaultPollInterval
	}
	if strings.TrimSpace(settings.APIBasePath) == "" {
		settings.APIBasePath = DefaultAPIBasePath
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	storePath, lockPath, err := defaultStorePaths()
	if err != nil {
		return Settings{}, err
	}
	minimum, _ := new(big.Int).SetString(DefaultMinimumAllowance, 10)
	return Settings{
		OutputMode:       "json",
		Timeout:          30 * time.Second,
		Retries:          2,
		APIBasePath:      DefaultAPIBasePath,
		APITestnet:       true,
		PollInterval:     DefaultPollInterval,
		Network:          DefaultNetwork,
		RPCURLs:          map[string]string{},
		MinimumAllowance: minimum,
		StorePath:        storePath,
		StoreLockPath:    lockPath,
		LogLevel:         "warn",
		LogFormat:        "console",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "lazytrader", "config.yaml"), nil
}

func defaultStorePaths() (string, string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(base, "lazytrader")
	return filepath.Join(dir, "state.db"), filepath.Join(dir, "state.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.ReadOnly != nil {
		settings.ReadOnly = *cfg.ReadOnly
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Network != "" {
		settings.Network = strings.ToLower(cfg.Network)
	}
	if cfg.Wallet != "" {
		settings.Wallet = cfg.Wallet
	}
	if cfg.API.Origin != "" {
		settings.APIOrigin = cfg.API.Origin
	}
	if cfg.API.BasePath != "" {
		settings.APIBasePath = cfg.API.BasePath
	}
	if cfg.API.Testnet != nil {
		settings.APITestnet = *cfg.API.Testnet
	}
	if cfg.API.RateLimit != nil {
		settings.APIRateLimit = *cfg.API.RateLimit
	}
	if cfg.Setup.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Setup.PollInterval)
		if err != nil {
			return fmt.Errorf("config setup.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Permissions.MinimumAllowance != "" {
		v, err := parseBaseUnits(cfg.Permissions.MinimumAllowance)
		if err != nil {
			return fmt.Errorf("config permissions.minimum_allowance: %w", err)
		}
		settings.MinimumAllowance = v
	}
	for network, url := range cfg.RPC {
		if strings.TrimSpace(url) != "" {
			settings.RPCURLs[strings.ToLower(network)] = strings.TrimSpace(url)
		}
	}
	if cfg.Store.Path != "" {
		settings.StorePath = cfg.Store.Path
	}
	if cfg.Store.LockPath != "" {
		settings.StoreLockPath = cfg.Store.LockPath
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = cfg.Log.Format
	}

	return nil
}

func loadEnvFile(path string) error {
	if strings.TrimSpace(path) != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
	return nil
}

func applyEnv(settings *Settings) error {
	var env envConfig
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	if env.Output != "" {
		settings.OutputMode = strings.ToLower(env.Output)
	}
	if env.ReadOnly != "" {
		if b, err := strconv.ParseBool(env.ReadOnly); err == nil {
			settings.ReadOnly = b
		}
	}
	if env.Timeout != "" {
		if d, err := time.ParseDuration(env.Timeout); err == nil {
			settings.Timeout = d
		}
	}
	if env.Retries != "" {
		if n, err := strconv.Atoi(env.Retries); err == nil {
			settings.Retries = n
		}
	}
	if env.Network != "" {
		settings.Network = strings.ToLower(env.Network)
	}
	if env.Wallet != "" {
		settings.Wallet = env.Wallet
	}
	if env.APIOrigin != "" {
		settings.APIOrigin = env.APIOrigin
	}
	if env.APIBasePath != "" {
		settings.APIBasePath = env.APIBasePath
	}
	if env.APITestnet != "" {
		if b, err := strconv.ParseBool(env.APITestnet); err == nil {
			settings.APITestnet = b
		}
	}
	if env.APIRateLimit != "" {
		if f, err := strconv.ParseFloat(env.APIRateLimit, 64); err == nil {
			settings.APIRateLimit = f
		}
	}
	if env.PollInterval != "" {
		if d, err := time.ParseDuration(env.PollInterval); err == nil {
			settings.PollInterval = d
		}
	}
	if env.MinimumAllowance != "" {
		if v, err := parseBaseUnits(env.MinimumAllowance); err == nil {
			settings.MinimumAllowance = v
		}
	}
	if env.ArbitrumRPC != "" {
		settings.RPCURLs["arbitrum"] = env.ArbitrumRPC
	}
	if env.ArbitrumSepoliaRPC != "" {
		settings.RPCURLs["arbitrum-sepolia"] = env.ArbitrumSepoliaRPC
	}
	if env.StorePath != "" {
		settings.StorePath = env.StorePath
	}
	if env.StoreLockPath != "" {
		settings.StoreLockPath = env.StoreLockPath
	}
	if env.LogLevel != "" {
		settings.LogLevel = env.LogLevel
	}
	if env.LogFormat != "" {
		settings.LogFormat = env.LogFormat
	}
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitList(flags.EnableCommands)
	}
	if flags.ReadOnly {
		settings.ReadOnly = true
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if strings.TrimSpace(flags.Network) != "" {
		settings.Network = strings.ToLower(strings.TrimSpace(flags.Network))
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURLs[settings.Network] = strings.TrimSpace(flags.RPCURL)
	}
	if strings.TrimSpace(flags.APIOrigin) != "" {
		settings.APIOrigin = strings.TrimSpace(flags.APIOrigin)
	}
	if strings.TrimSpace(flags.LogLevel) != "" {
		settings.LogLevel = flags.LogLevel
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBaseUnits(v string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("expected a non-negative integer in base units, got %q", v)
	}
	return n, nil
}
