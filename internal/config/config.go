package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"cloutfeed/go-backend/internal/securestore"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CLOUTFEED"

type Config struct {
	API      APIConfig      `yaml:"api"`
	Identity IdentityConfig `yaml:"identity"`
	Funding  FundingConfig  `yaml:"funding"`
	Flow     FlowConfig     `yaml:"flow"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type APIConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
}

type IdentityConfig struct {
	ProviderURL  string `yaml:"providerURL"`
	CallbackAddr string `yaml:"callbackAddr"`
	// CallbackRPS and CallbackBurst throttle the loopback receiver per
	// remote address.
	CallbackRPS   float64 `yaml:"callbackRPS"`
	CallbackBurst int     `yaml:"callbackBurst"`
}

// FundingConfig describes the app account that tops up new owners. SeedHex
// is never read from the file.
type FundingConfig struct {
	PublicKey         string `yaml:"publicKey"`
	SeedHex           string `yaml:"-"`
	MinBalanceNanos   uint64 `yaml:"minBalanceNanos"`
	AmountNanos       uint64 `yaml:"amountNanos"`
	FeeRateNanosPerKB uint64 `yaml:"feeRateNanosPerKB"`
}

type FlowConfig struct {
	SettleDelay          time.Duration `yaml:"settleDelay"`
	MinFeeRateNanosPerKB uint64        `yaml:"minFeeRateNanosPerKB"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	DataDir string `yaml:"dataDir"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig.Addr empty disables the metrics listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// envOverrides mirrors the settings that may come from the environment.
// Zero values leave the file/default value alone.
type envOverrides struct {
	APIBaseURL     string        `envconfig:"API_BASE_URL"`
	APITimeout     time.Duration `envconfig:"API_TIMEOUT"`
	ProviderURL    string        `envconfig:"IDENTITY_PROVIDER_URL"`
	CallbackAddr   string        `envconfig:"IDENTITY_CALLBACK_ADDR"`
	FundingKey     string        `envconfig:"FUNDING_PUBLIC_KEY"`
	FundingSeedHex string        `envconfig:"FUNDING_SEED_HEX"`
	SettleDelay    time.Duration `envconfig:"FLOW_SETTLE_DELAY"`
	StorageBackend string        `envconfig:"STORAGE_BACKEND"`
	DataDir        string        `envconfig:"DATA_DIR"`
	LogLevel       string        `envconfig:"LOG_LEVEL"`
	LogFormat      string        `envconfig:"LOG_FORMAT"`
	MetricsAddr    string        `envconfig:"METRICS_ADDR"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "https://node.deso.org",
			Timeout: 15 * time.Second,
			RPS:     5,
			Burst:   10,
		},
		Identity: IdentityConfig{
			ProviderURL:   "https://identity.deso.org/derive",
			CallbackAddr:  "127.0.0.1:0",
			CallbackRPS:   2,
			CallbackBurst: 5,
		},
		Funding: FundingConfig{
			MinBalanceNanos:   10_000,
			AmountNanos:       50_000,
			FeeRateNanosPerKB: 1_000,
		},
		Flow: FlowConfig{
			SettleDelay: 3 * time.Second,
		},
		Storage: StorageConfig{
			Backend: securestore.BackendFile,
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (or the first default location present when path is
// empty), merges it over Default and applies CLOUTFEED_* overrides. An
// explicit path that cannot be read is an error; a missing default file is
// not.
func Load(path string) (Config, error) {
	cfg := Default()

	candidates := []string{path}
	if path == "" {
		candidates = []string{"configs/config.yaml", "config.yaml"}
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			if path == "" && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", p, err)
		}
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func ApplyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("process environment: %w", err)
	}
	setString(&cfg.API.BaseURL, env.APIBaseURL)
	setString(&cfg.Identity.ProviderURL, env.ProviderURL)
	setString(&cfg.Identity.CallbackAddr, env.CallbackAddr)
	setString(&cfg.Funding.PublicKey, env.FundingKey)
	setString(&cfg.Funding.SeedHex, env.FundingSeedHex)
	setString(&cfg.Storage.Backend, env.StorageBackend)
	setString(&cfg.Storage.DataDir, env.DataDir)
	setString(&cfg.Log.Level, env.LogLevel)
	setString(&cfg.Log.Format, env.LogFormat)
	setString(&cfg.Metrics.Addr, env.MetricsAddr)
	if env.APITimeout > 0 {
		cfg.API.Timeout = env.APITimeout
	}
	if env.SettleDelay > 0 {
		cfg.Flow.SettleDelay = env.SettleDelay
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Storage.Backend {
	case securestore.BackendMemory, securestore.BackendFile, securestore.BackendSQLite, securestore.BackendBadger:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("api.baseURL is required")
	}
	if c.Flow.SettleDelay < 0 {
		return errors.New("flow.settleDelay must not be negative")
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + string(os.PathSeparator) + "cloutfeed"
	}
	return ".cloutfeed"
}
