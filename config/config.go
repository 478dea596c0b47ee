package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port            int
	DBPath          string
	LogLevel        string
	ReadTimeout     int // seconds
	WriteTimeout    int // seconds
	ProbeTimeout    int // seconds
	SessionTTL      int // seconds
	JanitorInterval int // seconds
}

func Load() *Config {
	cfg := &Config{
		Port:            3216,
		DBPath:          "pshare.db",
		LogLevel:        "info",
		ReadTimeout:     120,
		WriteTimeout:    30,
		ProbeTimeout:    5,
		SessionTTL:      7 * 24 * 3600,
		JanitorInterval: 60,
	}

	if portStr := os.Getenv("PSHARE_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if dbPath := os.Getenv("PSHARE_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if level := os.Getenv("PSHARE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if timeoutStr := os.Getenv("PSHARE_READ_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.ReadTimeout = timeout
		}
	}

	if timeoutStr := os.Getenv("PSHARE_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	if timeoutStr := os.Getenv("PSHARE_PROBE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.ProbeTimeout = timeout
		}
	}

	if ttlStr := os.Getenv("PSHARE_SESSION_TTL"); ttlStr != "" {
		if ttl, err := strconv.Atoi(ttlStr); err == nil {
			cfg.SessionTTL = ttl
		}
	}

	if intervalStr := os.Getenv("PSHARE_JANITOR_INTERVAL"); intervalStr != "" {
		if interval, err := strconv.Atoi(intervalStr); err == nil {
			cfg.JanitorInterval = interval
		}
	}

	return cfg
}
