package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/openreq/openreq/currency"
	"github.com/openreq/openreq/pkg/log"
	"github.com/openreq/openreq/store"
)

type Mode string

const (
	ModeProduction Mode = "production"
	ModeTest       Mode = "test"
)

const (
	configDirPathEnv         = "OPENREQ_CONFIG_DIR_PATH"
	defaultConfigDirPath     = "."
	defaultDetectionInterval = 60 // in seconds
)

// Config represents the overall application configuration
type Config struct {
	mode              Mode
	networks          map[string]NetworkConfig
	currencies        currency.Table
	dbConf            store.DatabaseConfig
	detectionInterval time.Duration
}

// LoadConfig builds configuration from environment variables
func LoadConfig(logger log.Logger) (*Config, error) {
	logger = logger.NewSystem("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	// Load .env files
	configDotEnvPath := filepath.Join(configDirPath, ".env")
	logger.Info("loading .env file", "path", configDotEnvPath)
	if err := godotenv.Load(configDotEnvPath); err != nil {
		logger.Warn(".env file not found")
	}

	mode := Mode(os.Getenv("OPENREQ_MODE"))
	if mode == "" {
		mode = ModeProduction
	} else if mode != ModeProduction && mode != ModeTest {
		logger.Fatal("invalid OPENREQ_MODE value", "value", mode)
	}
	logger.Info("set mode", "value", mode)

	// Get database URL from environment variables
	var dbConf store.DatabaseConfig
	dbURL := os.Getenv("OPENREQ_DATABASE_URL")

	// If DATABASE_URL is not empty, parse the connection string
	// Otherwise, read the envs in usual way
	if dbURL != "" {
		var err error
		dbConf, err = store.ParseConnectionString(dbURL)
		if err != nil {
			logger.Error("failed to parse connection string", "err", err)
			return nil, err
		}
	} else {
		if err := cleanenv.ReadEnv(&dbConf); err != nil {
			logger.Error("failed to read env", "err", err)
			return nil, err
		}
	}

	detectionInterval := defaultDetectionInterval
	if interval := os.Getenv("OPENREQ_DETECTION_INTERVAL"); interval != "" {
		if parsed, err := strconv.Atoi(interval); err == nil && parsed > 0 {
			detectionInterval = parsed
		} else {
			logger.Warn("invalid OPENREQ_DETECTION_INTERVAL", "interval", interval)
		}
	}
	logger.Info("set detection interval", "seconds", detectionInterval)

	networks, err := LoadNetworks(configDirPath)
	if err != nil {
		logger.Fatal("failed to load networks", "error", err)
	}

	currencies, err := currency.LoadTable(configDirPath)
	if err != nil {
		logger.Fatal("failed to load currencies", "error", err)
	}

	config := Config{
		mode:              mode,
		networks:          networks,
		currencies:        currencies,
		dbConf:            dbConf,
		detectionInterval: time.Duration(detectionInterval) * time.Second,
	}

	return &config, nil
}
