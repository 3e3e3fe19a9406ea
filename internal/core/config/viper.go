package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("sdk.tenant_token", "")
	v.SetDefault("sdk.config_name", d.SDK.ConfigName)
	v.SetDefault("sdk.global_config_url", "")
	v.SetDefault("sdk.tenant_config_url", "")
	v.SetDefault("sdk.data_dir", d.SDK.DataDir)
	v.SetDefault("sdk.shared_data_dir", d.SDK.SharedDataDir)
	v.SetDefault("sdk.db_url", d.SDK.DBURL)
	v.SetDefault("sdk.buffer_capacity", d.SDK.BufferCapacity)
	v.SetDefault("sdk.tracker_batch", d.SDK.TrackerBatch)
	v.SetDefault("sdk.probe_timeout", d.SDK.ProbeTimeout.String())
	v.SetDefault("sdk.request_timeout", d.SDK.RequestTimeout.String())
	v.SetDefault("sdk.connectivity_url", "")
	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("api.health_port", d.API.HealthPort)

	v.SetEnvPrefix("ENGAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		SDK: SDKConfig{
			TenantToken:     v.GetString("sdk.tenant_token"),
			ConfigName:      v.GetString("sdk.config_name"),
			GlobalConfigURL: v.GetString("sdk.global_config_url"),
			TenantConfigURL: v.GetString("sdk.tenant_config_url"),
			DataDir:         v.GetString("sdk.data_dir"),
			SharedDataDir:   v.GetString("sdk.shared_data_dir"),
			DBURL:           v.GetString("sdk.db_url"),
			BufferCapacity:  v.GetInt("sdk.buffer_capacity"),
			TrackerBatch:    v.GetInt("sdk.tracker_batch"),
			ProbeTimeout:    v.GetDuration("sdk.probe_timeout"),
			RequestTimeout:  v.GetDuration("sdk.request_timeout"),
			ConnectivityURL: v.GetString("sdk.connectivity_url"),
		},
		API: APIConfig{
			Host:       v.GetString("api.host"),
			Port:       v.GetInt("api.port"),
			HealthPort: v.GetInt("api.health_port"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks port ranges and positive capacities and timeouts.
func validateConfig(cfg *Config) error {
	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.API.Port)
	}
	if cfg.API.HealthPort <= 0 || cfg.API.HealthPort > 65535 {
		return fmt.Errorf("health_port must be between 1 and 65535, got %d", cfg.API.HealthPort)
	}
	if cfg.API.HealthPort == cfg.API.Port {
		return fmt.Errorf("health_port must differ from port %d", cfg.API.Port)
	}
	if cfg.SDK.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be positive, got %d", cfg.SDK.BufferCapacity)
	}
	if cfg.SDK.TrackerBatch <= 0 {
		return fmt.Errorf("tracker_batch must be positive, got %d", cfg.SDK.TrackerBatch)
	}
	if cfg.SDK.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive, got %v", cfg.SDK.ProbeTimeout)
	}
	if cfg.SDK.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.SDK.RequestTimeout)
	}
	if cfg.SDK.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets. InConfig is
// used rather than IsSet because ENGAGE_API_SECRET itself would match api.secret.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("api_secret") || v.InConfig("sdk.api_secret") || v.InConfig("api.secret") {
		return fmt.Errorf("API secrets not allowed in config files (use ENGAGE_API_SECRET environment variable)")
	}
	return nil
}
