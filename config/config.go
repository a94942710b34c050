package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yoma-network/export-worker/internal/errors"
)

type AppConfig struct {
	File     string          `json:"-"`
	Database *DatabaseConfig `json:"database,omitempty"`
	Redis    *RedisConfig    `json:"redis,omitempty"`
	Blob     *BlobConfig     `json:"blob,omitempty"`
	Export   *ExportConfig   `json:"export,omitempty"`
}

type DatabaseConfig struct {
	Url string `json:"url"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type BlobConfig struct {
	// Provider selects the default storage backend: "s3" or "filesystem".
	Provider string `json:"provider"`
	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	Endpoint string `json:"endpoint"`
	// Root is the base directory of the filesystem backend.
	Root string `json:"root"`
	// PublicBaseURL prefixes retrieval URLs served by the filesystem backend.
	PublicBaseURL string `json:"publicBaseUrl"`
	// Environment namespaces storage keys: {environment}/{fileType}/{id}{ext}.
	Environment string `json:"environment"`
}

type ExportConfig struct {
	ProcessScheduleMaxIntervalInHours int `json:"processScheduleMaxIntervalInHours"`
	LockDurationBufferInMinutes       int `json:"lockDurationBufferInMinutes"`
	ProcessScheduleBatchSize          int `json:"processScheduleBatchSize"`
	DownloadLinkExpirationInHours     int `json:"downloadLinkExpirationInHours"`
	// MaximumRetryAttempts of 0 disables the retry-exhaustion check (unlimited).
	MaximumRetryAttempts int `json:"maximumRetryAttempts"`
	// IdempotencyKeyExpirationInSecs must stay below the schedule interval, or
	// an unexpired key from the previous tick would block a legitimate retry.
	IdempotencyKeyExpirationInSecs int `json:"idempotencyKeyExpirationInSeconds"`
	// ScheduleIntervalInMinutes is the worker tick between processing runs.
	ScheduleIntervalInMinutes int `json:"scheduleIntervalInMinutes"`
}

func LoadConfig() (*AppConfig, error) {
	bindFlagsAndEnv()

	configFile := getConfigFilePath()
	if configFile != "" {
		if err := loadFromFile(configFile); err != nil {
			return nil, err
		}
	}

	cfg := buildAppConfig(configFile)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindFlagsAndEnv() {
	pflag.String("config_file", "", "Configuration file in JSON format")

	// database
	pflag.String("data_source", "", "Data source")

	// redis
	pflag.String("redis_addr", "localhost:6379", "Redis address")
	pflag.String("redis_password", "", "Redis password")
	pflag.Int("redis_db", 0, "Redis DB number")

	// blob storage
	pflag.String("blob_provider", "s3", "Blob storage provider (s3|filesystem)")
	pflag.String("blob_bucket", "", "Blob storage bucket")
	pflag.String("blob_region", "", "Blob storage region")
	pflag.String("blob_endpoint", "", "Blob storage endpoint override")
	pflag.String("blob_root", "", "Filesystem blob store root directory")
	pflag.String("blob_public_base_url", "", "Public base URL for filesystem blobs")
	pflag.String("environment", "local", "Deployment environment used in storage keys")

	// export processing
	pflag.Int("process_schedule_max_interval_hours", 2, "Max duration of one processing run")
	pflag.Int("lock_duration_buffer_minutes", 5, "Safety buffer added to the lock duration")
	pflag.Int("process_schedule_batch_size", 100, "Pending schedule batch size")
	pflag.Int("download_link_expiration_hours", 168, "Retention of processed download links")
	pflag.Int("max_retry_attempts", 3, "Schedule retry budget, 0 = unlimited")
	pflag.Int("idempotency_key_expiration_seconds", 300, "Idempotency key TTL")
	pflag.Int("schedule_interval_minutes", 10, "Worker tick between processing runs")

	pflag.Parse()

	_ = viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Explicit mapping
	_ = viper.BindEnv("data_source", "DATA_SOURCE")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis_db", "REDIS_DB")
	_ = viper.BindEnv("blob_bucket", "BLOB_BUCKET")
	_ = viper.BindEnv("blob_region", "BLOB_REGION")
	_ = viper.BindEnv("environment", "ENVIRONMENT")
}

func getConfigFilePath() string {
	file := viper.GetString("config_file")
	if file == "" {
		file = os.Getenv("EXPORT_WORKER_CONFIG_FILE")
	}
	return file
}

func loadFromFile(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("json")
	if err := viper.ReadInConfig(); err != nil {
		return errors.New(fmt.Sprintf("could not load config file: %s", err.Error()))
	}
	return nil
}

func buildAppConfig(file string) *AppConfig {
	return &AppConfig{
		File:     file,
		Database: &DatabaseConfig{Url: viper.GetString("data_source")},
		Redis: &RedisConfig{
			Addr:     viper.GetString("redis_addr"),
			Password: viper.GetString("redis_password"),
			DB:       viper.GetInt("redis_db"),
		},
		Blob: &BlobConfig{
			Provider:      viper.GetString("blob_provider"),
			Bucket:        viper.GetString("blob_bucket"),
			Region:        viper.GetString("blob_region"),
			Endpoint:      viper.GetString("blob_endpoint"),
			Root:          viper.GetString("blob_root"),
			PublicBaseURL: viper.GetString("blob_public_base_url"),
			Environment:   viper.GetString("environment"),
		},
		Export: &ExportConfig{
			ProcessScheduleMaxIntervalInHours: viper.GetInt("process_schedule_max_interval_hours"),
			LockDurationBufferInMinutes:       viper.GetInt("lock_duration_buffer_minutes"),
			ProcessScheduleBatchSize:          viper.GetInt("process_schedule_batch_size"),
			DownloadLinkExpirationInHours:     viper.GetInt("download_link_expiration_hours"),
			MaximumRetryAttempts:              viper.GetInt("max_retry_attempts"),
			IdempotencyKeyExpirationInSecs:    viper.GetInt("idempotency_key_expiration_seconds"),
			ScheduleIntervalInMinutes:         viper.GetInt("schedule_interval_minutes"),
		},
	}
}

func validateConfig(cfg *AppConfig) error {
	if cfg.Database.Url == "" {
		return errors.New("Data source is required")
	}
	if cfg.Redis.Addr == "" {
		return errors.New("Redis address is required")
	}
	switch cfg.Blob.Provider {
	case "s3":
		if cfg.Blob.Bucket == "" {
			return errors.New("Blob bucket is required for the s3 provider")
		}
	case "filesystem":
		if cfg.Blob.Root == "" {
			return errors.New("Blob root is required for the filesystem provider")
		}
	default:
		return errors.New(fmt.Sprintf("unknown blob provider: %s", cfg.Blob.Provider))
	}
	if cfg.Blob.Environment == "" {
		return errors.New("Environment is required")
	}
	if cfg.Export.ProcessScheduleMaxIntervalInHours <= 0 {
		return errors.New("Processing max interval must be positive")
	}
	if cfg.Export.ProcessScheduleBatchSize <= 0 {
		return errors.New("Processing batch size must be positive")
	}
	if cfg.Export.IdempotencyKeyExpirationInSecs <= 0 {
		return errors.New("Idempotency key expiration must be positive")
	}
	if cfg.Export.ScheduleIntervalInMinutes > 0 &&
		cfg.Export.IdempotencyKeyExpirationInSecs >= cfg.Export.ScheduleIntervalInMinutes*60 {
		return errors.New("Idempotency key expiration must be shorter than the schedule interval")
	}
	return nil
}
