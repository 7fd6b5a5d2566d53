// Package config содержит логику чтения конфигурации сервиса розыгрышей и клиента.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress         = "localhost:8080"
	defaultDrawUpdateInterval = 10 * time.Second
	defaultRequestTimeout     = 5 * time.Second
)

// Config содержит параметры конфигурации сервера.
type Config struct {
	RunAddress         string        `env:"RUN_ADDRESS"`
	DatabaseURI        string        `env:"DATABASE_URI"`
	AuthSecret         string        `env:"AUTH_SECRET"`
	AdminLogin         string        `env:"ADMIN_LOGIN"`
	AdminPassword      string        `env:"ADMIN_PASSWORD"`
	DrawUpdateInterval time.Duration `env:"DRAW_UPDATE_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (empty to keep data in memory)")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing auth tokens")
	flag.DurationVar(&cfg.DrawUpdateInterval, "i", defaultDrawUpdateInterval, "interval of draw status updates")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.AuthSecret != "" {
		cfg.AuthSecret = envCfg.AuthSecret
	}
	if envCfg.DrawUpdateInterval != 0 {
		cfg.DrawUpdateInterval = envCfg.DrawUpdateInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	return cfg, nil
}

// ClientConfig содержит параметры консольного клиента.
type ClientConfig struct {
	ServerAddress  string        `env:"SERVER_ADDRESS"`
	Login          string        `env:"LOGIN"`
	Password       string        `env:"PASSWORD"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
}

// ParseClient считывает конфигурацию клиента из аргументов и переменных окружения.
func ParseClient(args []string) (*ClientConfig, error) {
	cfg := &ClientConfig{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	fs := flag.NewFlagSet("drawwin-ticket", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerAddress, "a", defaultRunAddress, "draw service address")
	fs.StringVar(&cfg.Login, "l", "", "login")
	fs.StringVar(&cfg.Password, "p", "", "password")
	fs.DurationVar(&cfg.RequestTimeout, "t", defaultRequestTimeout, "request timeout")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if envCfg.ServerAddress != "" {
		cfg.ServerAddress = envCfg.ServerAddress
	}
	if envCfg.Login != "" {
		cfg.Login = envCfg.Login
	}
	if envCfg.Password != "" {
		cfg.Password = envCfg.Password
	}
	if envCfg.RequestTimeout != 0 {
		cfg.RequestTimeout = envCfg.RequestTimeout
	}

	if cfg.Login == "" || cfg.Password == "" {
		return nil, fmt.Errorf("login and password are required")
	}

	return cfg, nil
}
