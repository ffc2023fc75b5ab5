// Package config loads gateway settings from environment variables (and an
// optional .env file for local development), the Go equivalent of
// app/config.py's Settings.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every environment-driven setting spec.md §6 names.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	AttestationCacheTTLSeconds  int `mapstructure:"attestation_cache_ttl_seconds"`
	AttestationCacheSize        int `mapstructure:"attestation_cache_size"`
	ProxyRequestTimeoutSeconds  int `mapstructure:"proxy_request_timeout_seconds"`

	DCAPLibraryPath string `mapstructure:"dcap_library_path"`
	DCAPPoolSize    int    `mapstructure:"dcap_pool_size"`
	PCCSURL         string `mapstructure:"pccs_url"`

	ForgeToken   string `mapstructure:"forge_token"`
	ForgeAPIBase string `mapstructure:"forge_api_base"`

	SigstoreTrustedRootPath                string `mapstructure:"sigstore_trusted_root_path"`
	SigstoreUseGitHubMirror                bool   `mapstructure:"sigstore_use_github_mirror"`
	ProvenanceRequireSigstoreVerification   bool   `mapstructure:"provenance_require_sigstore_verification"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
}

// CacheTTL returns AttestationCacheTTLSeconds as a time.Duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.AttestationCacheTTLSeconds) * time.Second
}

// ProxyTimeout returns ProxyRequestTimeoutSeconds as a time.Duration.
func (c Config) ProxyTimeout() time.Duration {
	return time.Duration(c.ProxyRequestTimeoutSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8443")
	v.SetDefault("attestation_cache_ttl_seconds", 300)
	v.SetDefault("attestation_cache_size", 1024)
	v.SetDefault("proxy_request_timeout_seconds", 30)
	v.SetDefault("dcap_pool_size", 4)
	v.SetDefault("forge_api_base", "https://api.github.com")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from environment variables, optionally seeded
// by a .env file at dotenvPath (empty means skip). Unset environment
// variables fall back to the defaults above, matching Settings' Pydantic
// field defaults.
func Load(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", dotenvPath, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	for _, key := range []string{
		"listen_addr", "attestation_cache_ttl_seconds", "attestation_cache_size",
		"proxy_request_timeout_seconds", "dcap_library_path", "dcap_pool_size",
		"pccs_url", "forge_token", "forge_api_base", "sigstore_trusted_root_path",
		"sigstore_use_github_mirror", "provenance_require_sigstore_verification",
		"metrics_addr", "log_level",
	} {
		_ = v.BindEnv(key)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
