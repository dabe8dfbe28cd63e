package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"go-face-enroll/logging"
	"go-face-enroll/redis"
)

const defaultSimilarityThreshold = 0.6

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`

	JwtPrivateKeyPath   string  `json:"jwt_private_key_path"`
	IssuerId            string  `json:"issuer_id"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
	LogLevel            string  `json:"log_level,omitempty"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	configPath := flag.String("config", "", "Path for the config.json to use")
	flag.Parse()

	if *configPath == "" {
		slog.Error("please provide a config path using the --config flag")
		os.Exit(1)
	}

	slog.Info("Using config", "path", *configPath)

	config, err := readConfigFile(*configPath)
	if err != nil {
		slog.Error("failed to read config file", "error", err)
		os.Exit(1)
	}

	logging.InitLogger(config.LogLevel)

	if config.SimilarityThreshold == 0 {
		config.SimilarityThreshold = defaultSimilarityThreshold
	}

	slog.Info("Hosting on", "host", config.ServerConfig.Host, "port", config.ServerConfig.Port)

	jwtCreator, err := NewJwtCreator(config.JwtPrivateKeyPath, config.IssuerId)
	if err != nil {
		slog.Error("failed to instantiate jwt creator", "error", err)
		os.Exit(1)
	}

	storage, err := createBiometricStorage(&config)
	if err != nil {
		slog.Error("failed to instantiate biometric storage", "error", err)
		os.Exit(1)
	}

	serverState := ServerState{
		challenges:          storage,
		enrollments:         storage,
		jwtCreator:          jwtCreator,
		similarityThreshold: config.SimilarityThreshold,
	}

	server, err := NewServer(&serverState, config.ServerConfig)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := server.ListenAndServe(); err != nil {
		slog.Error("failed to listen and serve", "error", err)
		os.Exit(1)
	}
}

func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	var config Config
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	return config, nil
}

// BiometricStorage holds challenges and enrollments side by side; the
// interfaces stay split so the handlers only see what they need.
type BiometricStorage interface {
	ChallengeStorage
	EnrollmentStorage
}

func createBiometricStorage(config *Config) (BiometricStorage, error) {
	if config.StorageType == "redis" {
		slog.Info("Using redis biometric storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisBiometricStorage(client, config.RedisConfig.Namespace), nil
	}
	if config.StorageType == "redis_sentinel" {
		slog.Info("Using redis sentinel biometric storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisBiometricStorage(client, config.RedisSentinelConfig.Namespace), nil
	}
	if config.StorageType == "memory" {
		slog.Info("Using in memory storage")
		return NewInMemoryBiometricStorage(), nil
	}
	return nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
}
