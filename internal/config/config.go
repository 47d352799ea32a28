package config

import (
	"log"

	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	// Driver is "sqlite3" for the embedded single-user setup or "postgres"
	// when pointing at a server instance.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RunnerConfig struct {
	EngineImage          string `mapstructure:"engine_image"`
	DataDir              string `mapstructure:"data_dir"`
	CallbackBaseURL      string `mapstructure:"callback_base_url"`
	ContainerCPULimit    int64  `mapstructure:"container_cpu_limit"`
	ContainerMemoryLimit int64  `mapstructure:"container_memory_limit"`
	GPUs                 int    `mapstructure:"gpus"`
}

type TelemetryConfig struct {
	// LogCap bounds per-job log retention; the oldest entries are pruned
	// once a job exceeds it.
	LogCap int `mapstructure:"log_cap"`
}

type Config struct {
	ServerPort     string          `mapstructure:"server_port"`
	JWTSecret      string          `mapstructure:"jwt_secret"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	Database       DatabaseConfig  `mapstructure:"database"`
	Runner         RunnerConfig    `mapstructure:"runner"`
	Telemetry      TelemetryConfig `mapstructure:"telemetry"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}
	if config.Database.Driver == "" {
		config.Database.Driver = "sqlite3"
	}
	if config.Database.DSN == "" && config.Database.Driver == "sqlite3" {
		config.Database.DSN = "./data/tunekit.db"
	}
	if config.Runner.DataDir == "" {
		config.Runner.DataDir = "./data"
	}
	if config.Runner.EngineImage == "" {
		config.Runner.EngineImage = "tunekit/train-engine:latest"
	}
	if config.Runner.CallbackBaseURL == "" {
		config.Runner.CallbackBaseURL = "http://host.docker.internal:" + config.ServerPort
	}
	if config.Telemetry.LogCap == 0 {
		config.Telemetry.LogCap = 1000
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"http://localhost:3000"}
	}

	return &config
}
