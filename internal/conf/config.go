package conf

import (
	"errors"
	"fmt"
	"time"

	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/database"
	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Database database.Config `mapstructure:"database"`
	Log      logger.Config   `mapstructure:"log"`
	Storage  StorageConfig   `mapstructure:"storage"`
	Worker   WorkerConfig    `mapstructure:"worker"`
}

// StorageConfig describes the filesystem tree shared with the upload handler.
type StorageConfig struct {
	// Root is the base directory of the upload tree.
	Root string `mapstructure:"root"`
	// Salt is the HMAC key used for path hashing. It must match the value
	// configured on the upload handler or no segment directory will resolve.
	Salt string `mapstructure:"salt"`
	// BaseDriveURL is the public download prefix referenced from playlists.
	BaseDriveURL string `mapstructure:"base_drive_url"`
	// DeviceQuotaMB is the per-device storage quota in megabytes.
	DeviceQuotaMB int64 `mapstructure:"device_quota_mb"`
	// RetentionDays is how long non-preserved drives are kept.
	RetentionDays int `mapstructure:"retention_days"`
}

// WorkerConfig tunes the pipeline scheduler.
type WorkerConfig struct {
	CycleDelay      time.Duration `mapstructure:"cycle_delay"`      // delay between cycles
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"` // minimum gap between cleanup passes
	MaxUptime       time.Duration `mapstructure:"max_uptime"`       // deliberate self-termination ceiling
	BatchSize       int           `mapstructure:"batch_size"`       // segments processed per cycle
	PoolWorkers     int           `mapstructure:"pool_workers"`     // decode/probe pool size
	ProbeBinary     string        `mapstructure:"probe_binary"`     // ffprobe executable
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`    // timeout for external tool calls
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetEnvPrefix("TELEMETRY")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.dbname", "telemetry")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("database.maxopenconns", 20)
	viper.SetDefault("database.connmaxlifetime", time.Hour)
	viper.SetDefault("database.connmaxidletime", 10*time.Minute)
	viper.SetDefault("database.loglevel", "warn")
	viper.SetDefault("database.slowthreshold", 200*time.Millisecond)
	viper.SetDefault("database.preparestmt", true)
	viper.SetDefault("database.timezone", "UTC")
	viper.SetDefault("database.automigrate", true)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "console")
	viper.SetDefault("log.enablecaller", true)
	viper.SetDefault("log.enablestacktrace", true)
	viper.SetDefault("log.file.filename", "logs/worker.log")
	viper.SetDefault("log.file.maxsize", 100)
	viper.SetDefault("log.file.maxage", 30)
	viper.SetDefault("log.file.maxbackups", 10)
	viper.SetDefault("log.file.compress", true)

	viper.SetDefault("storage.device_quota_mb", 20000)
	viper.SetDefault("storage.retention_days", 30)

	viper.SetDefault("worker.cycle_delay", 5*time.Second)
	viper.SetDefault("worker.cleanup_interval", 20*time.Minute)
	viper.SetDefault("worker.max_uptime", time.Hour)
	viper.SetDefault("worker.batch_size", 15)
	viper.SetDefault("worker.pool_workers", 4)
	viper.SetDefault("worker.probe_binary", "ffprobe")
	viper.SetDefault("worker.probe_timeout", 30*time.Second)
}

// Validate checks the pipeline-specific configuration values. Database and
// log sections validate themselves when their packages consume them.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return errors.New("storage.root is required")
	}
	if c.Storage.Salt == "" {
		return errors.New("storage.salt is required")
	}
	if c.Storage.DeviceQuotaMB <= 0 {
		return errors.New("storage.device_quota_mb must be positive")
	}
	if c.Storage.RetentionDays <= 0 {
		return errors.New("storage.retention_days must be positive")
	}
	if c.Worker.BatchSize <= 0 {
		return errors.New("worker.batch_size must be positive")
	}
	if c.Worker.CycleDelay <= 0 {
		return errors.New("worker.cycle_delay must be positive")
	}
	if c.Worker.MaxUptime <= 0 {
		return errors.New("worker.max_uptime must be positive")
	}
	if c.Worker.ProbeTimeout <= 0 {
		return errors.New("worker.probe_timeout must be positive")
	}
	return nil
}
