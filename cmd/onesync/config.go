package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/openmined/onesync/internal/config"
	"github.com/openmined/onesync/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "ONESYNC"

var home, _ = os.UserHomeDir()

// resolveConfigPath picks the config file, honoring in order:
// an explicit --config flag, ONESYNC_CONFIG_PATH, an existing file in a known location,
// the default path.
func resolveConfigPath(cmd *cobra.Command) string {
	if flag := cmd.Flag("config"); flag != nil && flag.Changed {
		return flag.Value.String()
	}

	if envPath := os.Getenv(envPrefix + "_CONFIG_PATH"); envPath != "" {
		return envPath
	}

	candidates := []string{
		config.DefaultConfigPath,
		filepath.Join(home, ".config", "onesync", "config.json"),
	}
	for _, candidate := range candidates {
		if utils.FileExists(candidate) {
			return candidate
		}
	}
	return config.DefaultConfigPath
}

// loadConfig merges flags, ONESYNC_* environment variables and the config file, in that order
// of precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, bool, error) {
	v := viper.New()

	path := resolveConfigPath(cmd)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, false, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	bindings := map[string]string{
		"storage_root":     "root",
		"database_name":    "db-name",
		"log_file":         "log-file",
		"case_insensitive": "case-insensitive",
		"verbose":          "verbose",
	}
	for key, flag := range bindings {
		if f := cmd.Flag(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, false, err
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	cfg := &config.Config{
		StorageRoot:     v.GetString("storage_root"),
		DatabaseName:    v.GetString("database_name"),
		LogFile:         v.GetString("log_file"),
		CaseInsensitive: v.GetBool("case_insensitive"),
		Path:            path,
	}
	return cfg, v.GetBool("verbose"), nil
}

func (c *cli) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or persist the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(c.cfg, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Write the effective configuration to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Save(c.cfg.Path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Saved config to %s\n", c.cfg.Path)
			return err
		},
	})
	return cmd
}
