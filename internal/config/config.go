package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MoseikiApp/peasy-ai/internal/registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath     string
	EnvFile        string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	NoCache        bool
	LogLevel       string
	RPCURL         string
}

// Settings is built once at startup and handed to constructors by value.
// Nothing reads the process environment after Load returns.
type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Timeout        time.Duration
	Retries        int
	CacheEnabled   bool
	CachePath      string
	CacheLockPath  string

	Log        LogSettings
	Chain      ChainSettings
	Swing      SwingSettings
	Rates      RateSettings
	Swap       SwapSettings
	Commission CommissionSettings
	Vault      VaultSettings
	Storage    StorageSettings
	Redis      RedisSettings
	Server     ServerSettings
}

type LogSettings struct {
	Level  string
	Format string
}

type ChainSettings struct {
	Slug        string
	ChainID     int64
	RPCURL      string
	ExplorerURL string
}

type SwingSettings struct {
	APIKey      string
	ProjectID   string
	BaseURL     string
	PlatformURL string
	ListTTL     time.Duration
}

type RateSettings struct {
	BaseURL string
	TTL     time.Duration
}

type SwapSettings struct {
	MinGasReserve         decimal.Decimal
	DefaultSlippagePct    decimal.Decimal
	QuoteMaxSlippage      string
	ConfirmTimeout        time.Duration
	PollInterval          time.Duration
	GasLimitFloor         uint64
	MaxFeeFloorGwei       decimal.Decimal
	PriorityFeeFloorGwei  decimal.Decimal
	MaxCallDataLength     int
	CancelMaxFeeGwei      decimal.Decimal
	CancelPriorityFeeGwei decimal.Decimal
	GasMultiplier         float64
}

type CommissionSettings struct {
	Wallet      string
	TargetUSD   decimal.Decimal
	MinNative   decimal.Decimal
	MaxNative   decimal.Decimal
	DefaultRate decimal.Decimal
	Memo        string
	Timeout     time.Duration
}

type VaultSettings struct {
	Salt string
}

type StorageSettings struct {
	Driver      string
	Path        string
	LockPath    string
	PostgresDSN string
}

type RedisSettings struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

type ServerSettings struct {
	Addr         string
	NotifyBuffer int
	// Token is the shared bearer secret every /v1 request must carry.
	Token string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Chain struct {
		Slug        string `yaml:"slug"`
		ChainID     int64  `yaml:"chain_id"`
		RPCURL      string `yaml:"rpc_url"`
		ExplorerURL string `yaml:"explorer_url"`
	} `yaml:"chain"`
	Swing struct {
		APIKey      string `yaml:"api_key"`
		APIKeyEnv   string `yaml:"api_key_env"`
		ProjectID   string `yaml:"project_id"`
		BaseURL     string `yaml:"base_url"`
		PlatformURL string `yaml:"platform_url"`
		ListTTL     string `yaml:"list_ttl"`
	} `yaml:"swing"`
	Rates struct {
		BaseURL string `yaml:"base_url"`
		TTL     string `yaml:"ttl"`
	} `yaml:"rates"`
	Swap struct {
		MinGasReserve      string `yaml:"min_gas_reserve"`
		DefaultSlippagePct string `yaml:"default_slippage_pct"`
		ConfirmTimeout     string `yaml:"confirm_timeout"`
		PollInterval       string `yaml:"poll_interval"`
		GasLimitFloor      uint64 `yaml:"gas_limit_floor"`
		MaxCallDataLength  int    `yaml:"max_call_data_length"`
	} `yaml:"swap"`
	Commission struct {
		Wallet      string `yaml:"wallet"`
		TargetUSD   string `yaml:"target_usd"`
		MinNative   string `yaml:"min_native"`
		MaxNative   string `yaml:"max_native"`
		DefaultRate string `yaml:"default_rate"`
	} `yaml:"commission"`
	Vault struct {
		Salt    string `yaml:"salt"`
		SaltEnv string `yaml:"salt_env"`
	} `yaml:"vault"`
	Storage struct {
		Driver         string `yaml:"driver"`
		Path           string `yaml:"path"`
		LockPath       string `yaml:"lock_path"`
		PostgresDSN    string `yaml:"postgres_dsn"`
		PostgresDSNEnv string `yaml:"postgres_dsn_env"`
	} `yaml:"storage"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TLS      bool   `yaml:"tls"`
	} `yaml:"redis"`
	Server struct {
		Addr         string `yaml:"addr"`
		NotifyBuffer int    `yaml:"notify_buffer"`
		Token        string `yaml:"token"`
		TokenEnv     string `yaml:"token_env"`
	} `yaml:"server"`
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

	if err := loadDotEnv(flags.EnvFile); err != nil {
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
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if err := settings.validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	dataDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:    "json",
		Timeout:       10 * time.Second,
		Retries:       2,
		CacheEnabled:  true,
		CachePath:     cachePath,
		CacheLockPath: lockPath,
		Log: LogSettings{
			Level:  "warn",
			Format: "json",
		},
		Chain: ChainSettings{
			Slug:        "base",
			ChainID:     8453,
			ExplorerURL: "https://basescan.org",
		},
		Swing: SwingSettings{
			ProjectID:   "peasy",
			BaseURL:     registry.SwingTransferURL,
			PlatformURL: registry.SwingPlatformURL,
			ListTTL:     10 * time.Minute,
		},
		Rates: RateSettings{
			BaseURL: registry.CoinbaseURL,
			TTL:     60 * time.Second,
		},
		Swap: SwapSettings{
			MinGasReserve:         decimal.RequireFromString("0.0001"),
			DefaultSlippagePct:    decimal.NewFromInt(1),
			QuoteMaxSlippage:      "0.10",
			ConfirmTimeout:        30 * time.Second,
			PollInterval:          2 * time.Second,
			GasLimitFloor:         400000,
			MaxFeeFloorGwei:       decimal.NewFromInt(1),
			PriorityFeeFloorGwei:  decimal.NewFromInt(1),
			MaxCallDataLength:     4000,
			CancelMaxFeeGwei:      decimal.NewFromInt(3),
			CancelPriorityFeeGwei: decimal.NewFromInt(2),
			GasMultiplier:         1.2,
		},
		Commission: CommissionSettings{
			TargetUSD:   decimal.RequireFromString("0.0025"),
			MinNative:   decimal.RequireFromString("0.0000005"),
			MaxNative:   decimal.RequireFromString("0.00001"),
			DefaultRate: decimal.NewFromInt(2500),
			Memo:        "Peasy - Swap Commission",
			Timeout:     60 * time.Second,
		},
		Storage: StorageSettings{
			Driver:   "sqlite",
			Path:     filepath.Join(dataDir, "peasy.db"),
			LockPath: filepath.Join(dataDir, "peasy.lock"),
		},
		Server: ServerSettings{
			Addr:         "127.0.0.1:8080",
			NotifyBuffer: 64,
		},
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
	return filepath.Join(base, "peasy", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "peasy")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

// loadDotEnv reads KEY=VALUE pairs without overriding variables that are
// already set in the process environment.
func loadDotEnv(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("parse env file: %w", err)
	}
	return nil
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
	if cfg.Log.Level != "" {
		settings.Log.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.Log.Format = cfg.Log.Format
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}

	if cfg.Chain.Slug != "" {
		settings.Chain.Slug = strings.ToLower(cfg.Chain.Slug)
	}
	if cfg.Chain.ChainID > 0 {
		settings.Chain.ChainID = cfg.Chain.ChainID
	}
	if cfg.Chain.RPCURL != "" {
		settings.Chain.RPCURL = cfg.Chain.RPCURL
	}
	if cfg.Chain.ExplorerURL != "" {
		settings.Chain.ExplorerURL = strings.TrimRight(cfg.Chain.ExplorerURL, "/")
	}

	if cfg.Swing.APIKey != "" {
		settings.Swing.APIKey = cfg.Swing.APIKey
	}
	if cfg.Swing.APIKeyEnv != "" {
		settings.Swing.APIKey = os.Getenv(cfg.Swing.APIKeyEnv)
	}
	if cfg.Swing.ProjectID != "" {
		settings.Swing.ProjectID = cfg.Swing.ProjectID
	}
	if cfg.Swing.BaseURL != "" {
		settings.Swing.BaseURL = strings.TrimRight(cfg.Swing.BaseURL, "/")
	}
	if cfg.Swing.PlatformURL != "" {
		settings.Swing.PlatformURL = strings.TrimRight(cfg.Swing.PlatformURL, "/")
	}
	if cfg.Swing.ListTTL != "" {
		d, err := time.ParseDuration(cfg.Swing.ListTTL)
		if err != nil {
			return fmt.Errorf("config swing.list_ttl: %w", err)
		}
		settings.Swing.ListTTL = d
	}

	if cfg.Rates.BaseURL != "" {
		settings.Rates.BaseURL = strings.TrimRight(cfg.Rates.BaseURL, "/")
	}
	if cfg.Rates.TTL != "" {
		d, err := time.ParseDuration(cfg.Rates.TTL)
		if err != nil {
			return fmt.Errorf("config rates.ttl: %w", err)
		}
		settings.Rates.TTL = d
	}

	if err := setDecimal(&settings.Swap.MinGasReserve, cfg.Swap.MinGasReserve, "swap.min_gas_reserve"); err != nil {
		return err
	}
	if err := setDecimal(&settings.Swap.DefaultSlippagePct, cfg.Swap.DefaultSlippagePct, "swap.default_slippage_pct"); err != nil {
		return err
	}
	if cfg.Swap.ConfirmTimeout != "" {
		d, err := time.ParseDuration(cfg.Swap.ConfirmTimeout)
		if err != nil {
			return fmt.Errorf("config swap.confirm_timeout: %w", err)
		}
		settings.Swap.ConfirmTimeout = d
	}
	if cfg.Swap.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Swap.PollInterval)
		if err != nil {
			return fmt.Errorf("config swap.poll_interval: %w", err)
		}
		settings.Swap.PollInterval = d
	}
	if cfg.Swap.GasLimitFloor > 0 {
		settings.Swap.GasLimitFloor = cfg.Swap.GasLimitFloor
	}
	if cfg.Swap.MaxCallDataLength > 0 {
		settings.Swap.MaxCallDataLength = cfg.Swap.MaxCallDataLength
	}

	if cfg.Commission.Wallet != "" {
		settings.Commission.Wallet = cfg.Commission.Wallet
	}
	if err := setDecimal(&settings.Commission.TargetUSD, cfg.Commission.TargetUSD, "commission.target_usd"); err != nil {
		return err
	}
	if err := setDecimal(&settings.Commission.MinNative, cfg.Commission.MinNative, "commission.min_native"); err != nil {
		return err
	}
	if err := setDecimal(&settings.Commission.MaxNative, cfg.Commission.MaxNative, "commission.max_native"); err != nil {
		return err
	}
	if err := setDecimal(&settings.Commission.DefaultRate, cfg.Commission.DefaultRate, "commission.default_rate"); err != nil {
		return err
	}

	if cfg.Vault.Salt != "" {
		settings.Vault.Salt = cfg.Vault.Salt
	}
	if cfg.Vault.SaltEnv != "" {
		settings.Vault.Salt = os.Getenv(cfg.Vault.SaltEnv)
	}

	if cfg.Storage.Driver != "" {
		settings.Storage.Driver = strings.ToLower(cfg.Storage.Driver)
	}
	if cfg.Storage.Path != "" {
		settings.Storage.Path = cfg.Storage.Path
	}
	if cfg.Storage.LockPath != "" {
		settings.Storage.LockPath = cfg.Storage.LockPath
	}
	if cfg.Storage.PostgresDSN != "" {
		settings.Storage.PostgresDSN = cfg.Storage.PostgresDSN
	}
	if cfg.Storage.PostgresDSNEnv != "" {
		settings.Storage.PostgresDSN = os.Getenv(cfg.Storage.PostgresDSNEnv)
	}

	if cfg.Redis.Addr != "" {
		settings.Redis = RedisSettings{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS:      cfg.Redis.TLS,
		}
	}
	if cfg.Server.Addr != "" {
		settings.Server.Addr = cfg.Server.Addr
	}
	if cfg.Server.NotifyBuffer > 0 {
		settings.Server.NotifyBuffer = cfg.Server.NotifyBuffer
	}
	if cfg.Server.Token != "" {
		settings.Server.Token = cfg.Server.Token
	}
	if cfg.Server.TokenEnv != "" {
		settings.Server.Token = os.Getenv(cfg.Server.TokenEnv)
	}
	return nil
}

func applyEnv(settings *Settings) error {
	if v := os.Getenv("PEASY_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("PEASY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("PEASY_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("PEASY_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("PEASY_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("PEASY_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("PEASY_LOG_LEVEL"); v != "" {
		settings.Log.Level = v
	}
	if v := os.Getenv("PEASY_LOG_FORMAT"); v != "" {
		settings.Log.Format = v
	}
	if v := os.Getenv("PEASY_RPC_URL"); v != "" {
		settings.Chain.RPCURL = v
	}
	if v := firstEnv("PEASY_SWING_API_KEY", "SWING_API_KEY"); v != "" {
		settings.Swing.APIKey = v
	}
	if v := os.Getenv("PEASY_SWING_PROJECT_ID"); v != "" {
		settings.Swing.ProjectID = v
	}
	if v := firstEnv("PEASY_KEY_SALT", "KEY_SALT"); v != "" {
		settings.Vault.Salt = v
	}
	if v := firstEnv("PEASY_COMMISSION_WALLET", "COMPANY_COMMISSION_WALLET"); v != "" {
		settings.Commission.Wallet = v
	}
	if v := os.Getenv("PEASY_CONFIRM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PEASY_CONFIRM_TIMEOUT: %w", err)
		}
		settings.Swap.ConfirmTimeout = d
	}
	if v := os.Getenv("PEASY_STORE_PATH"); v != "" {
		settings.Storage.Path = v
	}
	if v := os.Getenv("PEASY_STORE_LOCK_PATH"); v != "" {
		settings.Storage.LockPath = v
	}
	if v := firstEnv("PEASY_DATABASE_URL", "DATABASE_URL"); v != "" {
		settings.Storage.PostgresDSN = v
		settings.Storage.Driver = "postgres"
	}
	if v := os.Getenv("PEASY_STORE_DRIVER"); v != "" {
		settings.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("PEASY_REDIS_ADDR"); v != "" {
		settings.Redis.Addr = v
	} else if host := os.Getenv("REDIS_HOST"); host != "" {
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		settings.Redis.Addr = host + ":" + port
		settings.Redis.TLS = true
	}
	if v := os.Getenv("PEASY_REDIS_PASSWORD"); v != "" {
		settings.Redis.Password = v
	}
	if v := os.Getenv("PEASY_SERVER_ADDR"); v != "" {
		settings.Server.Addr = v
	}
	if v := os.Getenv("PEASY_SERVER_TOKEN"); v != "" {
		settings.Server.Token = v
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
	if fields := splitList(flags.Select); len(fields) > 0 {
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if allowed := splitList(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
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
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.LogLevel != "" {
		settings.Log.Level = flags.LogLevel
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.Chain.RPCURL = strings.TrimSpace(flags.RPCURL)
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}

func (s Settings) validate() error {
	if s.Commission.MinNative.GreaterThan(s.Commission.MaxNative) {
		return fmt.Errorf("commission.min_native must not exceed commission.max_native")
	}
	if s.Commission.Wallet != "" && !common.IsHexAddress(s.Commission.Wallet) {
		return fmt.Errorf("commission wallet %q is not a valid address", s.Commission.Wallet)
	}
	switch s.Storage.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(s.Storage.PostgresDSN) == "" {
			return fmt.Errorf("storage driver postgres requires a dsn")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", s.Storage.Driver)
	}
	if s.Swap.ConfirmTimeout <= 0 {
		return fmt.Errorf("swap confirm timeout must be positive")
	}
	if !registry.IsAllowedProviderURL("swing", s.Swing.BaseURL) {
		return fmt.Errorf("swing base url %q is not allowed", s.Swing.BaseURL)
	}
	if !registry.IsAllowedProviderURL("swing-platform", s.Swing.PlatformURL) {
		return fmt.Errorf("swing platform url %q is not allowed", s.Swing.PlatformURL)
	}
	if !registry.IsAllowedProviderURL("coinbase", s.Rates.BaseURL) {
		return fmt.Errorf("rates base url %q is not allowed", s.Rates.BaseURL)
	}
	return nil
}

func setDecimal(dst *decimal.Decimal, raw, field string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("config %s: %w", field, err)
	}
	*dst = v
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if f := strings.TrimSpace(part); f != "" {
			out = append(out, f)
		}
	}
	return out
}
