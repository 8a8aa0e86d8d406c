package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/storacha/poe/pkg/resolver"
	"github.com/storacha/poe/pkg/store/claimstore"
)

const DefaultServicePort = 3000

// CoreConfig contains the core settings for the registry node
type CoreConfig struct {
	KeyFilePath string `toml:"key_file" json:"key_file" mapstructure:"key_file" validate:"required" flag:"key-file"`
	ServerPort  int    `toml:"port" json:"port" mapstructure:"port" validate:"min=1,max=65535" flag:"port"`
	PublicURL   string `toml:"public_url" json:"public_url" mapstructure:"public_url" validate:"omitempty,url" flag:"public-url"`
}

// DirectoriesConfig contains file system paths for the registry node
type DirectoriesConfig struct {
	DataDir string `toml:"data_dir" json:"data_dir" mapstructure:"data_dir" validate:"required" flag:"data-dir"`
}

// RegistryConfig contains the claim registry policies
type RegistryConfig struct {
	// MaxClaimLength bounds fingerprint length on create. 0 is unbounded.
	MaxClaimLength int `toml:"max_claim_length" json:"max_claim_length" mapstructure:"max_claim_length" validate:"min=0" flag:"max-claim-length"`
	// KeyHash is the hash used to derive storage keys from fingerprints.
	KeyHash       string `toml:"key_hash" json:"key_hash" mapstructure:"key_hash" validate:"omitempty,oneof=blake2b-128 sha2-256" flag:"key-hash"`
	RequireDIDKey bool   `toml:"require_did_key" json:"require_did_key" mapstructure:"require_did_key" flag:"require-did-key"`
	// Aliases maps transfer destinations to DIDs.
	Aliases map[string]string `toml:"aliases" json:"aliases" mapstructure:"aliases"`
	// BlockTime is the interval between blocks. When 0 a block is produced
	// for each delivered transaction.
	BlockTime time.Duration `toml:"block_time" json:"block_time" mapstructure:"block_time" validate:"min=0" flag:"block-time"`
}

// TelemetryConfig contains error reporting settings
type TelemetryConfig struct {
	SentryDSN   string `toml:"sentry_dsn" json:"sentry_dsn" mapstructure:"sentry_dsn" validate:"omitempty,url" flag:"sentry-dsn"`
	Environment string `toml:"environment" json:"environment" mapstructure:"environment"`
}

// Node represents the full configuration for a registry node
type Node struct {
	// Core settings
	Core CoreConfig `toml:"core" json:"core" mapstructure:"core"`

	// Data storage locations
	Directories DirectoriesConfig `toml:"directories" json:"directories" mapstructure:"directories"`

	// Claim registry policies
	Registry RegistryConfig `toml:"registry" json:"registry" mapstructure:"registry"`

	Telemetry TelemetryConfig `toml:"telemetry" json:"telemetry" mapstructure:"telemetry"`

	LogLevel string `toml:"log_level" json:"log_level" mapstructure:"log_level" flag:"log-level"`
}

// LoadConfig is a comprehensive method that handles the entire configuration loading process
// flags > environment variables > config file > defaults
// It takes care of:
// 1. Loading defaults specified in code
// 2. Loading config from file if provided via --config, and from environment variables
// 3. Setting up default directories if they are not provided
// 4. Applying CLI flag overrides to config state
// 5. Validating the final configuration
func LoadConfig(cCtx *cli.Context) (*Node, error) {
	cfg, err := load(cCtx.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Set up default directories (creates them if they don't exist)
	if err := setupDefaultDirectories(cfg); err != nil {
		return nil, fmt.Errorf("failed to set up default directories: %w", err)
	}

	// Apply CLI flags overrides
	fromCLI(cCtx, cfg)

	// Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadStorage loads the configuration needed to open the node data directory
// while the node is stopped. Unlike LoadConfig it does not require an
// identity or server settings.
func LoadStorage(cCtx *cli.Context) (*Node, error) {
	cfg, err := load(cCtx.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := setupDefaultDirectories(cfg); err != nil {
		return nil, fmt.Errorf("failed to set up default directories: %w", err)
	}
	fromCLI(cCtx, cfg)

	var errs error
	if err := validateSection("directories", &cfg.Directories); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := validateSection("registry", &cfg.Registry); err != nil {
		errs = multierror.Append(errs, err)
	}
	if errs != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", errs)
	}
	return cfg, nil
}

// Validate performs validation on the configuration values and returns any errors.
// This can be called before using the configuration to ensure all required values are set.
func (cfg *Node) Validate() error {
	sections := []struct {
		name string
		cfg  any
	}{
		{"core", &cfg.Core},
		{"directories", &cfg.Directories},
		{"registry", &cfg.Registry},
		{"telemetry", &cfg.Telemetry},
	}
	var errs error
	for _, s := range sections {
		if err := validateSection(s.name, s.cfg); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	// Aliases must resolve to parseable DIDs
	if _, err := resolver.ParseAliases(cfg.Registry.Aliases); err != nil {
		errs = multierror.Append(errs, FieldError{Key: "registry.aliases", Problem: err.Error()})
	}
	if cfg.Registry.RequireDIDKey {
		for alias, id := range cfg.Registry.Aliases {
			if !strings.HasPrefix(id, "did:key:") {
				errs = multierror.Append(errs, FieldError{
					Key:     "registry.aliases." + alias,
					Problem: fmt.Sprintf("must be a did:key when require_did_key is set, got %s", id),
				})
			}
		}
	}
	return errs
}

// load reads the configuration from the given path, if any, and returns a Node.
// It binds and loads values from environment variables.
// It preserves default values for fields not specified in the config file or env vars
func load(path string) (*Node, error) {
	// Initialize viper with defaults
	v, err := setupViperWithDefaults()
	if err != nil {
		return nil, err
	}

	if path != "" {
		if stat, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file path does not exist: %s", path)
			}
			return nil, fmt.Errorf("failed to read config file at path %s: %w", path, err)
		} else if stat.IsDir() {
			return nil, fmt.Errorf("config file path points to a directory: %s", path)
		}

		// Read the configuration file
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into our config struct
	cfg := new(Node)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Initialize empty maps if nil to avoid nil pointer panics
	if cfg.Registry.Aliases == nil {
		cfg.Registry.Aliases = make(map[string]string)
	}

	return cfg, nil
}

// newDefault creates a new configuration with pure default values.
// This only sets defaults that are not dependent on platform-specific logic.
// Application code should handle platform-specific defaults like file paths.
func newDefault() *Node {
	return &Node{
		Core: CoreConfig{
			PublicURL:  fmt.Sprintf("http://localhost:%d", DefaultServicePort),
			ServerPort: DefaultServicePort, // Default HTTP port
		},
		Directories: DirectoriesConfig{
			// No defaults for paths - platform-specific logic should set these
		},
		Registry: RegistryConfig{
			KeyHash: claimstore.HashBlake2b128,
			Aliases: make(map[string]string),
		},
		Telemetry: TelemetryConfig{
			Environment: "local",
		},
		LogLevel: "info",
	}
}

// fromCLI loads configuration values from CLI flags
func fromCLI(ctx *cli.Context, cfg *Node) {
	// Core settings
	if ctx.IsSet("key-file") {
		cfg.Core.KeyFilePath = ctx.String("key-file")
	}
	if ctx.IsSet("port") {
		cfg.Core.ServerPort = ctx.Int("port")
	}
	if ctx.IsSet("public-url") {
		cfg.Core.PublicURL = ctx.String("public-url")
	}

	// Directory settings
	if ctx.IsSet("data-dir") {
		cfg.Directories.DataDir = ctx.String("data-dir")
	}

	// Registry settings
	if ctx.IsSet("max-claim-length") {
		cfg.Registry.MaxClaimLength = ctx.Int("max-claim-length")
	}
	if ctx.IsSet("key-hash") {
		cfg.Registry.KeyHash = ctx.String("key-hash")
	}
	if ctx.IsSet("require-did-key") {
		cfg.Registry.RequireDIDKey = ctx.Bool("require-did-key")
	}
	if ctx.IsSet("block-time") {
		cfg.Registry.BlockTime = ctx.Duration("block-time")
	}

	// Telemetry settings
	if ctx.IsSet("sentry-dsn") {
		cfg.Telemetry.SentryDSN = ctx.String("sentry-dsn")
	}
	if ctx.IsSet("environment") {
		cfg.Telemetry.Environment = ctx.String("environment")
	}

	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
}

// setupViperWithDefaults creates a new Viper instance with default values and environment bindings
func setupViperWithDefaults() (*viper.Viper, error) {
	v := viper.New()

	// Set up environment variable binding
	v.SetEnvPrefix("POE")
	v.AutomaticEnv()

	// Create the aliases for environment variables
	for key, envVar := range envVars {
		if err := v.BindEnv(key, "POE_"+envVar); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable %s: %w", key, err)
		}
	}

	// Start with default values
	defaultCfg := newDefault()

	// Set default values in Viper
	v.SetDefault("core.port", defaultCfg.Core.ServerPort)
	v.SetDefault("core.public_url", defaultCfg.Core.PublicURL)
	v.SetDefault("registry.key_hash", defaultCfg.Registry.KeyHash)
	v.SetDefault("telemetry.environment", defaultCfg.Telemetry.Environment)
	v.SetDefault("log_level", defaultCfg.LogLevel)

	return v, nil
}

// setupDefaultDirectories configures default directories if they are not already set
func setupDefaultDirectories(cfg *Node) error {
	if cfg.Directories.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting user home directory: %w", err)
		}

		dataDir := filepath.Join(homeDir, ".poe")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("creating default data directory %s: %w", dataDir, err)
		}
		cfg.Directories.DataDir = dataDir
	}

	return nil
}
