package am

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/meshgate/gateway/errors"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before
// overwriting a config file.
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		fmt.Printf("warning: failed to delete old backup %s: %v\n", back3, err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// GetUIConfigPath returns the path to the UI-managed config file at
// ~/.gateway/gateway_from_ui.toml.
func GetUIConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gateway", "gateway_from_ui.toml")
}

// loadOrInitializeUIConfig loads the UI config file, or returns an empty
// map if it doesn't exist yet.
func loadOrInitializeUIConfig() (map[string]interface{}, string, error) {
	configPath := GetUIConfigPath()
	if configPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	gatewayDir := filepath.Dir(configPath)
	if err := os.MkdirAll(gatewayDir, 0750); err != nil {
		return nil, "", errors.Wrap(err, "failed to create .gateway directory")
	}

	var config map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse UI config")
		}
	} else {
		config = make(map[string]interface{})
	}

	return config, configPath, nil
}

// saveUIConfig writes config to the UI config file, backing up the
// previous version first and marking the write as our own so the config
// watcher doesn't treat it as an external edit.
func saveUIConfig(config map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write UI config")
	}

	return nil
}

// setSectionField updates a single field within a top-level config section
// in the UI-managed config file (e.g. section="transfer", field="chunk_size_bytes").
func setSectionField(section, field string, value interface{}) error {
	config, configPath, err := loadOrInitializeUIConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load UI config")
	}

	var sectionMap map[string]interface{}
	if s, ok := config[section].(map[string]interface{}); ok {
		sectionMap = s
	} else {
		sectionMap = make(map[string]interface{})
	}

	sectionMap[field] = value
	config[section] = sectionMap

	return saveUIConfig(config, configPath)
}

// UpdateTransferChunkSize updates transfer.chunk_size_bytes in the UI config.
func UpdateTransferChunkSize(bytes int) error {
	return setSectionField("transfer", "chunk_size_bytes", bytes)
}

// UpdateCronDefaultTimezone updates cron.default_timezone in the UI config.
func UpdateCronDefaultTimezone(tz string) error {
	return setSectionField("cron", "default_timezone", tz)
}

// UpdateFSBackend updates fs.backend in the UI config.
func UpdateFSBackend(backend string) error {
	return setSectionField("fs", "backend", backend)
}

// UpdateServerLogTheme updates logging.theme in the UI config.
func UpdateServerLogTheme(theme string) error {
	return setSectionField("logging", "theme", theme)
}
