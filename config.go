/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the operator-tunable process configuration, decoded from the
// environment. A config file given with --config is a dotenv file loaded
// into the environment first, so every knob has exactly one spelling.
type Config struct {
	ListenAddr string `env:"IRCD_LISTEN_ADDR" envDefault:":6667"`
	ServerName string `env:"IRCD_SERVER_NAME" envDefault:"irc.localhost"`
	Network    string `env:"IRCD_NETWORK" envDefault:""`
	SID        string `env:"IRCD_SID" envDefault:""`
	MOTD       string `env:"IRCD_MOTD" envDefault:""`
	Welcome    string `env:"IRCD_WELCOME" envDefault:""`
	Password   string `env:"IRCD_PASSWORD" envDefault:""`

	// OperLogins holds name:password pairs, comma-separated.
	OperLogins []string `env:"IRCD_OPERS" envSeparator:"," envDefault:""`

	HelperWorkers int `env:"IRCD_HELPER_WORKERS" envDefault:"4"`

	MetricsAddr string `env:"IRCD_METRICS_ADDR" envDefault:""`

	TLSCert string `env:"IRCD_TLS_CERT" envDefault:""`
	TLSKey  string `env:"IRCD_TLS_KEY" envDefault:""`

	LogLevel string `env:"IRCD_LOG_LEVEL" envDefault:"info"`
}

// LoadConfig reads the optional dotenv file at path (empty means skip, a
// missing file at an explicit path is an error) and decodes the Config
// struct from the environment.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("loading config file %q: %w", path, err)
		}
	} else {
		// best-effort local .env for development setups
		_ = godotenv.Load()
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.SID != "" && len(cfg.SID) != 3 {
		return fmt.Errorf("IRCD_SID must be exactly 3 characters, got %q", cfg.SID)
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return fmt.Errorf("IRCD_TLS_CERT and IRCD_TLS_KEY must be set together")
	}
	for _, entry := range cfg.OperLogins {
		if entry != "" && !strings.Contains(entry, ":") {
			return fmt.Errorf("IRCD_OPERS entry %q is not name:password", entry)
		}
	}
	return nil
}

// Opers decodes the name:password oper list into a lookup map.
func (cfg *Config) Opers() map[string]string {
	out := make(map[string]string, len(cfg.OperLogins))
	for _, entry := range cfg.OperLogins {
		if name, password, ok := strings.Cut(entry, ":"); ok {
			out[name] = password
		}
	}
	return out
}
