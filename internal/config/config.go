package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/openmined/onesync/internal/utils"
)

const DefaultDatabaseName = "data.md"

var (
	home, _            = os.UserHomeDir()
	DefaultStorageRoot = filepath.Join(home, ".onesync")
	DefaultConfigPath  = filepath.Join(DefaultStorageRoot, "config.json")
	DefaultLogFile     = filepath.Join(DefaultStorageRoot, "logs", "onesync.log")
)

type Config struct {
	StorageRoot     string `json:"storage_root"`
	DatabaseName    string `json:"database_name"`
	LogFile         string `json:"log_file"`
	CaseInsensitive bool   `json:"case_insensitive"`
	Path            string `json:"-"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		StorageRoot:  DefaultStorageRoot,
		DatabaseName: DefaultDatabaseName,
		LogFile:      DefaultLogFile,
		Path:         DefaultConfigPath,
	}
}

// ActivityDir is where per-source sync statistics are kept.
func (c *Config) ActivityDir() string {
	return filepath.Join(c.StorageRoot, "logs")
}

// Validate resolves paths and fills defaults.
func (c *Config) Validate() error {
	var err error

	if c.StorageRoot == "" {
		return errors.New("storage root is required")
	}
	if c.StorageRoot, err = utils.ResolvePath(c.StorageRoot); err != nil {
		return fmt.Errorf("storage root: %w", err)
	}

	if c.DatabaseName == "" {
		c.DatabaseName = DefaultDatabaseName
	}
	if c.DatabaseName != filepath.Base(c.DatabaseName) {
		return fmt.Errorf("database name %q must be a file name", c.DatabaseName)
	}

	if c.LogFile != "" {
		if c.LogFile, err = utils.ResolvePath(c.LogFile); err != nil {
			return fmt.Errorf("log file: %w", err)
		}
	}

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}
	return nil
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.Path = path
	return cfg, nil
}
