package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// PoolConfig configures a relay pool built from the environment, in the
// style of the host application's own config rather than library
// defaults buried in code.
type PoolConfig struct {
	NostrRelays             []string      `env:"NOSTR_RELAYS" envSeparator:";"`
	NostrPrivateKey         string        `env:"NOSTR_PRIVATE_KEY"`
	NotificationChannelSize int           `env:"NOTIFICATION_CHANNEL_SIZE" envDefault:"512"`
	TaskChannelSize         int           `env:"TASK_CHANNEL_SIZE" envDefault:"256"`
	TaskMaxSeenEvents       int           `env:"TASK_MAX_SEEN_EVENTS" envDefault:"2048"`
	ShutdownOnDrop          bool          `env:"SHUTDOWN_ON_DROP" envDefault:"true"`
	ConnectTimeout          time.Duration `env:"CONNECT_TIMEOUT" envDefault:"15s"`
	Socks5Proxy             string        `env:"SOCKS5_PROXY"`
}

// DefaultRelays mirrors the teacher's fallback-relay convention: if the
// operator configures nothing, the pool still has somewhere to connect.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
}

// LoadConfig loads and marshals configuration from a .env file in the
// user's home directory, falling back to a .env file in the current
// directory, and finally to the OS environment.
func LoadConfig[T any]() (*T, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Error("error loading home directory", "error", err)
	}
	if _, err := os.Stat(homeDir + "/.env"); err == nil {
		return loadFromEnv[T](homeDir + "/.env")
	} else if _, err := os.Stat(".env"); err == nil {
		return loadFromEnv[T]("")
	}
	return loadFromEnv[T]("")
}

// loadFromEnv loads the configuration from the specified .env file path.
// If the path is empty, it loads .env from the current directory when
// one exists. Either way the OS environment is then parsed.
func loadFromEnv[T any](path string) (*T, error) {
	var loadErr error
	if path == "" {
		loadErr = godotenv.Load()
	} else {
		loadErr = godotenv.Load(path)
	}
	if loadErr != nil {
		cfg, err := env.ParseAs[T]()
		if err != nil {
			return nil, fmt.Errorf("parse env config: %w", err)
		}
		return &cfg, nil
	}

	cfg, err := env.ParseAs[T]()
	if err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	return &cfg, nil
}
