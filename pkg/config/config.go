package config

// Package config provides a reusable loader for contract host configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"contracthost/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a contract host node. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Node struct {
		ID         string `mapstructure:"id" json:"id"`
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
		DataDir    string `mapstructure:"data_dir" json:"data_dir"`
	} `mapstructure:"node" json:"node"`

	Hardfork struct {
		Version int `mapstructure:"version" json:"version"`
	} `mapstructure:"hardfork" json:"hardfork"`

	Gas struct {
		DefaultLimit       uint64 `mapstructure:"default_limit" json:"default_limit"`
		DefaultInstrLimit  uint64 `mapstructure:"default_instr_limit" json:"default_instr_limit"`
		DefaultMaxMemory   uint64 `mapstructure:"default_max_memory" json:"default_max_memory"`
		WallClockMS        int    `mapstructure:"wall_clock_ms" json:"wall_clock_ms"`
	} `mapstructure:"gas" json:"gas"`

	DB struct {
		Path  string `mapstructure:"path" json:"path"`
		Prune bool   `mapstructure:"prune" json:"prune"`
		// ContractDir, when set, is the directory holding one SQLite file
		// per private contract (§4.9's db/stmt/rs bridge). Empty leaves the
		// SQL bridge unopened, the same as an unset EngineConfig.DBDir.
		ContractDir string `mapstructure:"contract_dir" json:"contract_dir"`
	} `mapstructure:"db" json:"db"`

	Admin struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Addr    string `mapstructure:"addr" json:"addr"`
	} `mapstructure:"admin" json:"admin"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CONTRACTHOST_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CONTRACTHOST_ENV", ""))
}
