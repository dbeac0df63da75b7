package config

// Package config provides a reusable loader for trustmesh configuration
// files and environment variables. Settings resolve in the order: defaults,
// YAML file, environment overrides.

import (
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/viper"

	"trustmesh/core"
	"trustmesh/pkg/utils"
)

// Config mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Storage struct {
		DataDir     string `mapstructure:"data_dir" json:"data_dir"`
		DBMaxSizeMB int    `mapstructure:"db_max_size_mb" json:"db_max_size_mb"`
	} `mapstructure:"storage" json:"storage"`

	Trust struct {
		GenerateTrustMapDepth int    `mapstructure:"generate_trust_map_depth" json:"generate_trust_map_depth"`
		MinMessageIntervalSec int64  `mapstructure:"min_message_interval_sec" json:"min_message_interval_sec"`
		SaveUntrustedMessages bool   `mapstructure:"save_untrusted_messages" json:"save_untrusted_messages"`
		BootstrapTrustedKeyID string `mapstructure:"bootstrap_trusted_key_id" json:"bootstrap_trusted_key_id"`
	} `mapstructure:"trust" json:"trust"`

	RPC struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"rpc" json:"rpc"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("storage.data_dir", utils.EnvOrDefault("TRUSTMESH_DATADIR", "./data"))
	v.SetDefault("storage.db_max_size_mb", utils.EnvOrDefaultInt("TRUSTMESH_DB_MAX_SIZE_MB", 100))
	v.SetDefault("trust.generate_trust_map_depth", utils.EnvOrDefaultInt("TRUSTMESH_TRUSTMAP_DEPTH", 4))
	v.SetDefault("trust.min_message_interval_sec", int64(30*24*60*60))
	v.SetDefault("trust.save_untrusted_messages", utils.EnvOrDefaultBool("TRUSTMESH_SAVE_UNTRUSTED", true))
	v.SetDefault("trust.bootstrap_trusted_key_id", "")
	v.SetDefault("rpc.listen_addr", utils.EnvOrDefault("TRUSTMESH_RPC_ADDR", ":4944"))
	v.SetDefault("logging.level", utils.EnvOrDefault("LOG_LEVEL", "info"))
}

// Load reads the configuration file at path (optional) with environment
// overrides and returns the resolved configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, utils.Wrap(err, "load config")
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "decode config")
	}
	return &cfg, nil
}

// StoreConfig converts the resolved configuration into the store's
// construction parameters.
func (c *Config) StoreConfig() core.Config {
	return core.Config{
		DataDir:               c.Storage.DataDir,
		DBMaxSize:             datasize.ByteSize(c.Storage.DBMaxSizeMB) * datasize.MB,
		TrustMapDepth:         c.Trust.GenerateTrustMapDepth,
		MinMessageInterval:    time.Duration(c.Trust.MinMessageIntervalSec) * time.Second,
		SaveUntrusted:         c.Trust.SaveUntrustedMessages,
		BootstrapTrustedKeyID: c.Trust.BootstrapTrustedKeyID,
	}
}
