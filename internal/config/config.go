// Package config loads the kiosk call configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/visiontec/kioskcall/internal/util"
)

// Config holds everything the call core needs from the deployment.
type Config struct {
	SignalURL       string        `mapstructure:"signal_url"`
	Room            string        `mapstructure:"room"`
	Token           string        `mapstructure:"token"`
	Role            string        `mapstructure:"role"`
	STUNServers     []string      `mapstructure:"stun_servers"`
	SecureContext   bool          `mapstructure:"secure_context"`
	IdleRevertDelay time.Duration `mapstructure:"idle_revert_delay"`
	RingTimeout     time.Duration `mapstructure:"ring_timeout"`
	Debug           bool          `mapstructure:"debug"`
}

// Load reads the environment-selected yaml file, falling back to defaults
// when none is present. KIOSK_ENV picks the file, e.g. config/kiosk.prod.yaml.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("KIOSK_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/kiosk.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("role", "client")
	v.SetDefault("secure_context", true)
	v.SetDefault("idle_revert_delay", "2s")
	v.SetDefault("ring_timeout", "0s")

	if err := v.ReadInConfig(); err != nil {
		util.LogWarning("config: %s not found, using defaults", fileName)
	} else {
		util.LogInfo("config: loaded %s", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
