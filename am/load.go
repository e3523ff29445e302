package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/meshgate/gateway/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the gateway's configuration using Viper, caching the result.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access.
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path, ignoring the
// layered system/user/project search used by Load.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &config, nil
}

// Reset clears the cached configuration. Used by tests.
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)

	SetDefaults(v)

	// Merge configs in precedence order: system -> user -> project -> env vars
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig searches for gateway.toml or config.toml by walking up
// the directory tree from the working directory.
// Preference order: gateway.toml > config.toml (backward compatibility).
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		gatewayPath := filepath.Join(dir, "gateway.toml")
		if _, err := os.Stat(gatewayPath); err == nil {
			return gatewayPath
		}

		configPath := filepath.Join(dir, "config.toml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles manually merges configuration files in the correct
// precedence order: system < user < project < env vars.
func mergeConfigFiles(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	gatewayDir := filepath.Join(homeDir, ".gateway")
	os.MkdirAll(gatewayDir, DefaultDirPermissions)

	projectConfig := findProjectConfig()
	configPaths := []string{
		"/etc/gateway/config.toml",                       // System config (lowest precedence)
		filepath.Join(gatewayDir, "config.toml"),          // User config (backward compat)
		filepath.Join(gatewayDir, "gateway.toml"),         // User config (wins if both exist)
		filepath.Join(gatewayDir, "config_from_ui.toml"),  // UI-written config (backward compat)
		filepath.Join(gatewayDir, "gateway_from_ui.toml"), // UI-written config (wins if both exist)
	}

	if projectConfig != "" {
		configPaths = append(configPaths, projectConfig)
	}

	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}

		tempViper := viper.New()
		tempViper.SetConfigFile(configPath)
		tempViper.SetConfigType("toml")

		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}

		// Deep-merge into the config layer: a later file overrides an
		// earlier one key by key, and env vars still take precedence.
		if err := v.MergeConfigMap(tempViper.AllSettings()); err != nil {
			continue
		}
	}
}

// Get returns a configuration value using dot notation.
func Get(key string) interface{} {
	v := initViper()
	return v.Get(key)
}

// GetString returns a configuration value as string using dot notation.
func GetString(key string) string {
	v := initViper()
	return v.GetString(key)
}

// GetBool returns a configuration value as bool using dot notation.
func GetBool(key string) bool {
	v := initViper()
	return v.GetBool(key)
}

// GetInt returns a configuration value as int using dot notation.
func GetInt(key string) int {
	v := initViper()
	return v.GetInt(key)
}

// GetFloat64 returns a configuration value as float64 using dot notation.
func GetFloat64(key string) float64 {
	v := initViper()
	return v.GetFloat64(key)
}

// GetStringSlice returns a configuration value as string slice using dot notation.
func GetStringSlice(key string) []string {
	v := initViper()
	return v.GetStringSlice(key)
}

// Set sets a configuration value using dot notation (runtime override).
func Set(key string, value interface{}) {
	v := initViper()
	v.Set(key, value)
}

// GetDatabasePath returns the configured database path, honoring a DB_PATH
// environment override used by dev tooling.
func GetDatabasePath() (string, error) {
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		return dbPath, nil
	}

	config, err := Load()
	if err != nil {
		return "", err
	}
	return config.Database.Path, nil
}

// GetServerConfig returns the gateway's server configuration.
func GetServerConfig() (*ServerConfig, error) {
	config, err := Load()
	if err != nil {
		return nil, err
	}
	return &config.Server, nil
}
