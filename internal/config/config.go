// Package config loads resyncd's configuration file.
//
// The file (resyncd.yaml by default) declares the store location,
// logging, and the scan configs to register, so the engine is usable
// without code-level registration:
//
//	store: .resyncd/cache.db
//	log_level: info
//	scans:
//	  - name: models
//	    path: resources/models
//	    patterns: ["*.yaml", "*.yml"]
//	    watch: true
//	  - name: prompts
//	    path: resources/prompts
//	    parser: markdown
//	    patterns: ["*.md"]
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/resyncd/resyncd/internal/engine"
	"github.com/resyncd/resyncd/internal/registry"
	"github.com/resyncd/resyncd/internal/scanner"
)

// ScanEntry is one scan config declaration.
type ScanEntry struct {
	Name     string   `mapstructure:"name"`
	Path     string   `mapstructure:"path"`
	Patterns []string `mapstructure:"patterns"`
	// Parser names the content parser: "yaml" (default) or "markdown".
	Parser string `mapstructure:"parser"`
	Watch  bool   `mapstructure:"watch"`
	// Table overrides the target cache table name.
	Table string `mapstructure:"table"`
}

// Config is the loaded configuration.
type Config struct {
	Store    string      `mapstructure:"store"`
	LogLevel string      `mapstructure:"log_level"`
	LogFile  string      `mapstructure:"log_file"`
	Scans    []ScanEntry `mapstructure:"scans"`
}

// Load reads the config file at path. An empty path tries resyncd.yaml
// in the working directory; a missing default file yields defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("store", ".resyncd/cache.db")
	v.SetDefault("log_level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("resyncd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Apply registers every declared scan config with the engine.
func (c *Config) Apply(eng *engine.Engine) {
	for _, entry := range c.Scans {
		var parser registry.ParseFunc
		if entry.Parser != "" {
			parser = scanner.ParserByName(entry.Parser)
		}
		eng.AddScanConfig(registry.ScanConfig{
			Name:     entry.Name,
			Root:     entry.Path,
			Patterns: entry.Patterns,
			Parser:   parser,
			Watch:    entry.Watch,
			Table:    entry.Table,
		})
	}
}
