package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// this is a pointer so that if someone attempts to use it before loading it will
// panic and force them to load it first.
// it is also private so that it cannot be modified after loading.
var _loaded *Config

// Id policies for locally created users
const (
	IDPolicyClient   = "client"
	IDPolicyServer   = "server"
	IDPolicyResponse = "response"
)

// Config is the main configuration structure
type Config struct {
	Common Common `yaml:"common"`
}

// Load loads the configuration following proper precedence: defaults → config file → environment variables
func Load() {
	// .env only feeds the environment, it never overrides variables already set
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	// Start with defaults
	LoadDefault()

	configFile := os.Getenv("USERDIR_CONFIG_FILE")
	if configFile == "" {
		configFile = "userdir.yaml"
	}

	log.Printf("Attempting to load config file: %s", configFile)

	if err := LoadFromFile(configFile); err != nil {
		log.Printf("Failed to load config file: %v, using defaults", err)
	} else {
		log.Printf("Successfully loaded config from file: %s", configFile)
	}

	// Apply environment variable overrides (highest priority)
	beforeEnv := *_loaded
	beforeEnv.Common.Console.AllowedOrigins = append([]string(nil), _loaded.Common.Console.AllowedOrigins...)
	ApplyEnvOverrides()

	if err := _loaded.Validate(); err != nil {
		log.Printf("Invalid environment overrides: %v, ignoring them", err)
		_loaded = &beforeEnv
	}

	log.Printf("Final config - API: %s, page size: %d, id policy: %s",
		_loaded.Common.API.BaseURL,
		_loaded.Common.API.PageSize,
		_loaded.Common.Directory.IDPolicy)
}

func LoadDefault() {
	config := defaultConfig
	config.Common.Console.AllowedOrigins = append([]string(nil), defaultConfig.Common.Console.AllowedOrigins...)
	_loaded = &config
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults
	cfg := defaultConfig

	// Merge YAML values over defaults
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config file: %w", err)
	}

	_loaded = &cfg
	return nil
}

// set sane defaults for all of the config options. when loading the config from
// the file, any options that are not set will be set to these defaults.
var defaultConfig = Config{
	Common: Common{
		Log: logConfig{
			Level:  "info",
			Format: "json",
		},
		API: apiConfig{
			BaseURL:  "https://jsonplaceholder.typicode.com",
			Timeout:  10 * time.Second,
			PageSize: 5,
		},
		Directory: directoryConfig{
			IDPolicy:              IDPolicyClient,
			TolerateCreateFailure: true,
			TolerateUpdateFailure: true,
			CheckDuplicates:       true,
		},
		Console: consoleConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
	},
}

type Common struct {
	Log       logConfig       `yaml:"log"`
	API       apiConfig       `yaml:"api"`
	Directory directoryConfig `yaml:"directory"`
	Console   consoleConfig   `yaml:"console"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type apiConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`   // applied by the HTTP client, not by the store
	PageSize int           `yaml:"page_size"` // records per page requested with _limit
}

type directoryConfig struct {
	IDPolicy              string `yaml:"id_policy"` // "client", "server" or "response"
	TolerateCreateFailure bool   `yaml:"tolerate_create_failure"`
	TolerateUpdateFailure bool   `yaml:"tolerate_update_failure"`
	CheckDuplicates       bool   `yaml:"check_duplicates"` // email/phone uniqueness stage of the form validation
}

type consoleConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the listen address of the console
func (c consoleConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks values that would otherwise fail much later at request time
func (c *Config) Validate() error {
	api := c.Common.API
	if api.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if _, err := url.Parse(api.BaseURL); err != nil {
		return fmt.Errorf("invalid api.base_url: %w", err)
	}
	if api.PageSize <= 0 {
		return fmt.Errorf("api.page_size must be a positive integer")
	}
	if api.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}

	switch c.Common.Directory.IDPolicy {
	case IDPolicyClient, IDPolicyServer, IDPolicyResponse:
	default:
		return fmt.Errorf("unknown directory.id_policy %q", c.Common.Directory.IDPolicy)
	}

	if c.Common.Console.Port <= 0 {
		return fmt.Errorf("console.port must be a positive integer")
	}
	return nil
}

// there should be a getter for each top level field in the config struct.
// these getters will panic if the config has not been loaded.

func Logger() logConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Log
}

func API() apiConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.API
}

func Directory() directoryConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Directory
}

func Console() consoleConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Console
}

func Get() *Config {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded
}

func ApplyEnvOverrides() {
	if _loaded == nil {
		return
	}

	if level := os.Getenv("USERDIR_LOG_LEVEL"); level != "" {
		_loaded.Common.Log.Level = level
	}
	if format := os.Getenv("USERDIR_LOG_FORMAT"); format != "" {
		_loaded.Common.Log.Format = format
	}

	if baseURL := os.Getenv("USERDIR_API_BASE_URL"); baseURL != "" {
		_loaded.Common.API.BaseURL = baseURL
	}
	if timeout := os.Getenv("USERDIR_API_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			_loaded.Common.API.Timeout = d
		}
	}
	if pageSize := os.Getenv("USERDIR_API_PAGE_SIZE"); pageSize != "" {
		if n, err := strconv.Atoi(pageSize); err == nil {
			_loaded.Common.API.PageSize = n
		}
	}

	if policy := os.Getenv("USERDIR_ID_POLICY"); policy != "" {
		_loaded.Common.Directory.IDPolicy = policy
	}
	if tolerate := os.Getenv("USERDIR_TOLERATE_CREATE_FAILURE"); tolerate != "" {
		if b, err := strconv.ParseBool(tolerate); err == nil {
			_loaded.Common.Directory.TolerateCreateFailure = b
		}
	}
	if tolerate := os.Getenv("USERDIR_TOLERATE_UPDATE_FAILURE"); tolerate != "" {
		if b, err := strconv.ParseBool(tolerate); err == nil {
			_loaded.Common.Directory.TolerateUpdateFailure = b
		}
	}
	if check := os.Getenv("USERDIR_CHECK_DUPLICATES"); check != "" {
		if b, err := strconv.ParseBool(check); err == nil {
			_loaded.Common.Directory.CheckDuplicates = b
		}
	}

	if host := os.Getenv("USERDIR_CONSOLE_HOST"); host != "" {
		_loaded.Common.Console.Host = host
	}
	if port := os.Getenv("USERDIR_CONSOLE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			_loaded.Common.Console.Port = p
		}
	}
	if origins := os.Getenv("USERDIR_CONSOLE_ALLOWED_ORIGINS"); origins != "" {
		_loaded.Common.Console.AllowedOrigins = strings.Split(origins, ",")
	}
}
