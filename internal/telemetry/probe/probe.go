package probe

import (
	"context"
	"os/exec"
	"time"

	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/logger"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Config defines the video probe configuration
type Config struct {
	Binary  string        `mapstructure:"binary"`  // ffprobe executable
	Timeout time.Duration `mapstructure:"timeout"` // per-invocation timeout
}

// DefaultConfig returns the default probe configuration
func DefaultConfig() *Config {
	return &Config{
		Binary:  "ffprobe",
		Timeout: 30 * time.Second,
	}
}

// Prober extracts stream durations from compressed video containers by
// shelling out to ffprobe.
type Prober struct {
	config *Config
	logger *logger.Logger
}

// New creates a video prober
func New(cfg *Config, log *logger.Logger) *Prober {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Prober{config: cfg, logger: log}
}

// Duration returns the duration in seconds of the first stream of the video
// at path, or 0 when the probe fails for any reason. Probe failures are
// logged and never block the pipeline.
func (p *Prober) Duration(ctx context.Context, path string) float64 {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.config.Binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	// Without a wait delay, a killed ffprobe that leaves a child holding
	// the stdout pipe would stall Output past the timeout.
	cmd.WaitDelay = time.Second

	out, err := cmd.Output()
	if err != nil {
		p.logger.WithContext(ctx).Warn("video probe failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return 0
	}

	duration := gjson.GetBytes(out, "streams.0.duration")
	if !duration.Exists() {
		p.logger.WithContext(ctx).Warn("video probe returned no duration", zap.String("path", path))
		return 0
	}

	return duration.Float()
}
