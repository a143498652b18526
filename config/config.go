/*
Package config loads service configuration from the environment.

Every knob has a sensible default so the server runs with no
configuration at all. A .env file, when present, is loaded by
cmd/server before Load is called.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port            int
	DatabasePath    string
	EventBuffer     int           // event bus channel capacity
	SweepInterval   time.Duration // how often to sweep stranded transactions
	SweepMaxAge     time.Duration // Pending age before a transaction is swept
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	sweepInterval, err := getEnvDuration("LEDGER_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}
	sweepMaxAge, err := getEnvDuration("LEDGER_SWEEP_MAX_AGE", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := getEnvDuration("LEDGER_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:            getEnvInt("LEDGER_PORT", 8080),
		DatabasePath:    getEnvString("LEDGER_DATABASE_PATH", "ledger.db"),
		EventBuffer:     getEnvInt("LEDGER_EVENT_BUFFER", 1024),
		SweepInterval:   sweepInterval,
		SweepMaxAge:     sweepMaxAge,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}
