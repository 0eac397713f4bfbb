package model

import "github.com/spf13/viper"

// Environment variables recognized by ApplyEnvOverrides. They take
// precedence over the configuration file so credentials can stay out
// of it.
const (
	EnvPrefix = "WAVERLY"

	envFofaEmail = "fofa_email"
	envFofaKey   = "fofa_key"
)

// ApplyEnvOverrides updates cfg from WAVERLY_FOFA_EMAIL and
// WAVERLY_FOFA_KEY when set.
func ApplyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	_ = v.BindEnv(envFofaEmail)
	_ = v.BindEnv(envFofaKey)

	email := v.GetString(envFofaEmail)
	key := v.GetString(envFofaKey)
	if email == "" && key == "" {
		return
	}

	if cfg.Fofa == nil {
		cfg.Fofa = &Fofa{
			Fields:    DefaultFofaFields(),
			QuerySize: 100,
		}
	}
	if email != "" {
		cfg.Fofa.Email = email
	}
	if key != "" {
		cfg.Fofa.Key = key
	}
}
