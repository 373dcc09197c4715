package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// DefaultSecretsFile is the secrets file read when no path is given.
const DefaultSecretsFile = "secrets.toml"

// LoadSecrets overlays values from a TOML secrets file onto cfg:
//
//	[huggingface]
//	bearer = "..."
//	api_token = "..."
//	endpoint_url = "https://..."
//
//	[system]
//	message = "..."
//
// Keys present in the file win over the environment. Missing keys leave cfg
// untouched.
func LoadSecrets(cfg *Config, path string) error {
	if path == "" {
		path = DefaultSecretsFile
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read secrets file %s: %w", path, err)
	}

	overlay := []struct {
		key    string
		target *string
	}{
		{"huggingface.bearer", &cfg.BearerToken},
		{"huggingface.api_token", &cfg.APIToken},
		{"huggingface.endpoint_url", &cfg.EndpointURL},
		{"system.message", &cfg.SystemMessage},
	}
	for _, o := range overlay {
		if s := v.GetString(o.key); s != "" {
			*o.target = s
		}
	}
	return nil
}
