// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix         = "CAMPUSCHAT_"
	DefaultConfigFile = "campuschat.toml"

	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server struct {
		Port           string   `koanf:"port"`
		AllowedOrigins []string `koanf:"allowed_origins"`
	} `koanf:"server"`

	Storage struct {
		Driver string `koanf:"driver"`
	} `koanf:"storage"`

	Database struct {
		URL          string `koanf:"url"`
		MaxOpenConns int    `koanf:"max_open_conns"`
		MaxIdleConns int    `koanf:"max_idle_conns"`
	} `koanf:"database"`

	Redis struct {
		Addr string `koanf:"addr"`
		DB   int    `koanf:"db"`
	} `koanf:"redis"`

	Auth struct {
		JWTSecret string `koanf:"jwt_secret"`
		JWTIssuer string `koanf:"jwt_issuer"`
	} `koanf:"auth"`

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`

	Chat struct {
		SendTimeout      time.Duration `koanf:"send_timeout"`
		MaxMessageLength int           `koanf:"max_message_length"`
	} `koanf:"chat"`

	RateLimit struct {
		RPS   float64 `koanf:"rps"`
		Burst int     `koanf:"burst"`
	} `koanf:"ratelimit"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.port":             "8081",
		"server.allowed_origins":  []string{"http://localhost:3000"},
		"storage.driver":          DriverPostgres,
		"database.url":            "postgres://localhost/campuschat?sslmode=disable",
		"database.max_open_conns": 20,
		"database.max_idle_conns": 5,
		"redis.addr":              "",
		"redis.db":                0,
		"auth.jwt_issuer":         "efchat",
		"log.level":               "info",
		"log.format":              "console",
		"chat.send_timeout":       "15s",
		"chat.max_message_length": 4000,
		"ratelimit.rps":           2.0,
		"ratelimit.burst":         10,
	}
}

// Load builds the configuration from defaults, an optional TOML file and
// CAMPUSCHAT_* environment variables, in increasing priority. A .env file in
// the working directory is read into the environment first.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else if _, err := os.Stat(DefaultConfigFile); err == nil {
		if err := k.Load(file.Provider(DefaultConfigFile), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading %s: %w", DefaultConfigFile, err)
		}
	}

	// CAMPUSCHAT_DATABASE_MAX_OPEN_CONNS -> database.max_open_conns
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(s, v string) (string, interface{}) {
		key := strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
		if key == "server.allowed_origins" {
			return key, splitList(v)
		}
		return key, v
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the settings needed to serve requests
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Chat.SendTimeout <= 0 {
		return fmt.Errorf("chat.send_timeout must be positive")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("chat.max_message_length must be positive")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit.rps and ratelimit.burst must be positive")
	}
	return nil
}

// Sample is written by `campuschat init`
const Sample = `# campuschat configuration

[server]
port = "8081"
allowed_origins = ["http://localhost:3000"]

[storage]
driver = "postgres" # or "memory"

[database]
url = "postgres://localhost/campuschat?sslmode=disable"
max_open_conns = 20
max_idle_conns = 5

[redis]
addr = "" # e.g. "localhost:6379"; empty disables unread counters

[auth]
jwt_secret = "change-me"
jwt_issuer = "efchat"

[log]
level = "info"
format = "console" # or "json"

[chat]
send_timeout = "15s"
max_message_length = 4000

[ratelimit]
rps = 2.0
burst = 10
`

// InitConfig writes a sample configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}
	return os.WriteFile(configPath, []byte(Sample), 0644)
}
